package state

type Manager interface {
	// --- Session Lifecycle ---
	RegisterSession(s *Session) error
	// DeregisterSession removes the session from its group and the session
	// table. It returns the group it was in, if any.
	DeregisterSession(id string) (group string, wasJoined bool, err error)
	GetSession(id string) (*Session, bool)
	Sessions() []*Session
	SessionCount() int
	CountByIP(ip string) int
	FindOldestByIP(ip string) (*Session, bool)

	// --- Group Directory ---
	// Join appends the session to the group, creating the group if absent.
	Join(id, group string) error
	// Leave removes the session from its group, pruning the group when empty.
	Leave(id string) (group string, err error)
	// GroupMembers lists a group's sessions in join order.
	GroupMembers(group string) ([]*Session, error)
	GroupCount() int

	// --- Modifier store ---
	GetModifierState(modifierName, connID, action string) (*ModifierState, bool)
	SetModifierState(modifierName, connID, action string, state *ModifierState)
	DeleteModifierState(modifierName, connID, action string)
}
