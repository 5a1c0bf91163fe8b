package client

import (
	"errors"

	"github.com/kurodenjiro/cryto-chat/pkg/keys"
)

var ErrIncompleteCredentials = errors.New("client: user name, group and password are required")

// Credentials are entered once and held for the lifetime of the client.
// The password itself is hashed on construction and not retained.
type Credentials struct {
	UserName string
	Group    string
	digest   []byte
}

func NewCredentials(userName, group, password string) (Credentials, error) {
	if userName == "" || group == "" || password == "" {
		return Credentials{}, ErrIncompleteCredentials
	}
	return Credentials{
		UserName: userName,
		Group:    group,
		digest:   keys.GroupDigest(password),
	}, nil
}

// Digest returns a copy of the group password digest.
func (c Credentials) Digest() []byte {
	return append([]byte(nil), c.digest...)
}
