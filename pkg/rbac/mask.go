package rbac

import "sort"

// CommandMask has one bit per known command
type CommandMask uint8

const (
	MaskView CommandMask = 1 << iota
	MaskCreate
	MaskUpdate
	MaskDelete
	MaskApprove
)

// KnownCommands lists the fixed vocabulary in display order
var KnownCommands = []string{CommandView, CommandCreate, CommandUpdate, CommandDelete, CommandApprove}

var commandBits = map[string]CommandMask{
	CommandView:    MaskView,
	CommandCreate:  MaskCreate,
	CommandUpdate:  MaskUpdate,
	CommandDelete:  MaskDelete,
	CommandApprove: MaskApprove,
}

// MaskFor returns the mask with a bit set for each known command id.
// Unknown ids contribute nothing.
func MaskFor(commandIDs ...string) CommandMask {
	var m CommandMask
	for _, id := range commandIDs {
		m |= commandBits[id]
	}
	return m
}

// Has reports whether the bit for commandID is set
func (m CommandMask) Has(commandID string) bool {
	bit, ok := commandBits[commandID]
	return ok && m&bit != 0
}

// Commands returns the set command ids in KnownCommands order
func (m CommandMask) Commands() []string {
	out := make([]string, 0, len(KnownCommands))
	for _, id := range KnownCommands {
		if m.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// MaskFlags are the per-command booleans rendered as matrix columns
type MaskFlags struct {
	HasView    bool `json:"hasView"`
	HasCreate  bool `json:"hasCreate"`
	HasUpdate  bool `json:"hasUpdate"`
	HasDelete  bool `json:"hasDelete"`
	HasApprove bool `json:"hasApprove"`
}

// Flags expands the mask into column booleans
func (m CommandMask) Flags() MaskFlags {
	return MaskFlags{
		HasView:    m.Has(CommandView),
		HasCreate:  m.Has(CommandCreate),
		HasUpdate:  m.Has(CommandUpdate),
		HasDelete:  m.Has(CommandDelete),
		HasApprove: m.Has(CommandApprove),
	}
}

// sortCommands orders known commands by vocabulary position, then any
// others alphabetically.
func sortCommands(ids []string) {
	rank := func(id string) int {
		for i, k := range KnownCommands {
			if k == id {
				return i
			}
		}
		return len(KnownCommands)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := rank(ids[i]), rank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
}
