package domain

// Contact is a person reachable through the notification channels.
type Contact struct {
	ID         string
	Name       string
	LineUserID string
	Email      string
	Phone      string
}

type JobInfo struct {
	ID            string
	Reference     string
	CustomerName  string
	CustomerPhone string
}
