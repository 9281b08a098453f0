package todos

type Todo struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	CreatedBy      string `json:"created_by"`
	Title          string `json:"title"`
	Notes          string `json:"notes,omitempty"`
	Status         string `json:"status"` // open, done
	CompletedAt    *int64 `json:"completed_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

const (
	StatusOpen = "open"
	StatusDone = "done"
)
