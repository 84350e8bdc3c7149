package person

import (
	"encoding/json"

	"github.com/csaude/comvida/internal/domain/base"
	"github.com/csaude/comvida/internal/platform/remote"
	"github.com/csaude/comvida/internal/store"
)

const UserResource = "users"

// User is an operator account. Password is write-only: it is sent when set
// and never read back. The backend's salt is not modelled.
type User struct {
	Person
	Username            string
	Password            string
	Status              string
	ShouldResetPassword *bool
	Attributes          json.RawMessage
}

type UserDTO struct {
	DTO
	Username            *string         `json:"username"`
	Password            *string         `json:"password,omitempty"`
	Status              *string         `json:"status"`
	ShouldResetPassword *bool           `json:"shouldResetPassword"`
	Attributes          json.RawMessage `json:"attributes"`
}

func UserFromDTO(d UserDTO) *User {
	return &User{
		Person:              Decode(d.DTO),
		Username:            base.Str(d.Username),
		Status:              base.Str(d.Status),
		ShouldResetPassword: d.ShouldResetPassword,
		Attributes:          rawOrNil(d.Attributes),
	}
}

func UserToDTO(u *User) UserDTO {
	return UserDTO{
		DTO:                 Encode(u.Person),
		Username:            base.StrPtr(u.Username),
		Password:            base.StrPtr(u.Password),
		Status:              base.StrPtr(u.Status),
		ShouldResetPassword: u.ShouldResetPassword,
		Attributes:          u.Attributes,
	}
}

func UserKey(u *User) store.Identity {
	return store.Identity{ID: u.ID, UUID: u.UUID, NaturalKey: u.Username}
}

var UserCodec = store.Codec[*User, UserDTO]{Decode: UserFromDTO, Encode: UserToDTO, Identity: UserKey}

func NewUserStore(c *remote.Client, opts store.Options) *store.Store[*User, UserDTO] {
	if opts.Resource == "" {
		opts.Resource = UserResource
	}
	coll := remote.NewCollection[UserDTO](c, UserResource, remote.WithSearchParam("username"))
	return store.New(coll, UserCodec, opts)
}
