package model

import "time"

type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:50;not null" json:"name"`
	Address   string    `gorm:"size:100;not null" json:"address"`
	Image     *string   `gorm:"size:255" json:"image"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Lower-cased copies of Name and Address for case-insensitive search.
	NameSearch    string `gorm:"size:50;index" json:"-"`
	AddressSearch string `gorm:"size:100" json:"-"`
}

func (User) TableName() string { return "users" }

// Clone returns a copy that does not share the Image pointer.
func (u User) Clone() User {
	if u.Image != nil {
		img := *u.Image
		u.Image = &img
	}
	return u
}
