package users

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleAlumni  Role = "alumni"
)

type User struct {
	ID             primitive.ObjectID `bson:"_id" json:"id"`
	Name           string             `bson:"name" json:"name"`
	Email          string             `bson:"email" json:"email"`
	Password       string             `bson:"password" json:"-"`
	Role           Role               `bson:"role" json:"role"`
	GraduationYear int                `bson:"graduation_year,omitempty" json:"graduationYear,omitempty"`
	Major          string             `bson:"major,omitempty" json:"major,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Identity is what other subsystems know about an authenticated member.
type Identity struct {
	ID          primitive.ObjectID `json:"id"`
	DisplayName string             `json:"displayName"`
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, DisplayName: u.Name}
}

type CreateUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           Role   `json:"role"`
	GraduationYear int    `json:"graduationYear"`
	Major          string `json:"major"`
}

type LoginUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}
