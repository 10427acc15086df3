package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	// FAILED tidak pernah di-set oleh service ini, hanya dari luar.
	StatusFailed Status = "FAILED"
	// Sebagian release stok gagal saat delete; order disimpan untuk rekonsiliasi.
	StatusCompensationFailed Status = "COMPENSATION_FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:            {StatusCompleted: true, StatusCompensationFailed: true},
	StatusCompleted:          {StatusCompensationFailed: true},
	StatusFailed:             {StatusCompensationFailed: true},
	StatusCompensationFailed: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
