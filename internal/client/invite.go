package client

import (
	"errors"
	"net/url"
)

const InviteScheme = "cryptchat"

var ErrBadInvite = errors.New("client: malformed invite link")

// Invite tells a new member where the relay is, which group to join and
// which key the relay signs with. It never carries the group password.
type Invite struct {
	RelayURL        string
	Group           string
	VerificationKey string
}

// String renders the invite as cryptchat://host/path?group=..&key=..,
// adding tls=1 for wss relays.
func (i Invite) String() (string, error) {
	relay, err := url.Parse(i.RelayURL)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("group", i.Group)
	q.Set("key", i.VerificationKey)
	if relay.Scheme == "wss" {
		q.Set("tls", "1")
	}
	link := url.URL{Scheme: InviteScheme, Host: relay.Host, Path: relay.Path, RawQuery: q.Encode()}
	return link.String(), nil
}

func ParseInvite(link string) (Invite, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Invite{}, err
	}
	if u.Scheme != InviteScheme || u.Host == "" {
		return Invite{}, ErrBadInvite
	}
	q := u.Query()
	if q.Get("group") == "" || q.Get("key") == "" {
		return Invite{}, ErrBadInvite
	}
	scheme := "ws"
	if q.Get("tls") == "1" {
		scheme = "wss"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	relay := url.URL{Scheme: scheme, Host: u.Host, Path: path}
	return Invite{RelayURL: relay.String(), Group: q.Get("group"), VerificationKey: q.Get("key")}, nil
}
