package app

import "github.com/dkeye/WatchParty/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	// KickMember cancels the connection, which runs its leave path.
	KickMember
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return KickMember
}
