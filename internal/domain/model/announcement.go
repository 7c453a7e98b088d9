package model

import "time"

// Announcement — объявление портала.
type Announcement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	IsActive    bool       `json:"isActive"`
	IsImportant bool       `json:"isImportant"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// IsCurrent сообщает, действует ли объявление в момент now:
// активно и now в [StartDate, EndDate]; без EndDate — бессрочно.
func (a *Announcement) IsCurrent(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if !a.StartDate.IsZero() && now.Before(a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	return true
}
