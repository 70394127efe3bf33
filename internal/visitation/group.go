package visitation

import (
	"strings"

	"leveltwo/internal/model"
	"leveltwo/internal/names"
)

const (
	// MaxServants is how many servant sections are shown and how many servants
	// share the roster when distributing.
	MaxServants = 4

	UnassignedName     = "بدون مسؤول"
	unknownServantName = "خادم"
)

// Section is one servant's share of the filtered roster. The fallback section
// has an empty ServantID.
type Section struct {
	ServantID   string         `json:"servant_id"`
	ServantName string         `json:"servant_name"`
	Members     []model.Member `json:"members"`
}

// Servant is the part of a user the grouping needs.
type Servant struct {
	ID   string
	Name string
}

// Group partitions members by assigned servant. At most MaxServants servant
// sections are returned, ordered by their position in servants and then by
// first appearance among members. Unassigned members, and members of servants
// beyond the section limit, land in a trailing fallback section. Empty
// sections are omitted and members are sorted by name within each section.
func Group(members []model.Member, assignments map[string]string, servants []Servant) []Section {
	byServant := make(map[string][]model.Member)
	var discovered []string
	for _, m := range members {
		sid := assignments[m.ID]
		if sid == "" {
			continue
		}
		if _, seen := byServant[sid]; !seen {
			discovered = append(discovered, sid)
		}
		byServant[sid] = append(byServant[sid], m)
	}

	chosen := make([]string, 0, MaxServants)
	picked := make(map[string]bool)
	for _, s := range servants {
		if len(chosen) == MaxServants {
			break
		}
		if _, ok := byServant[s.ID]; ok && !picked[s.ID] {
			chosen = append(chosen, s.ID)
			picked[s.ID] = true
		}
	}
	for _, sid := range discovered {
		if len(chosen) == MaxServants {
			break
		}
		if !picked[sid] {
			chosen = append(chosen, sid)
			picked[sid] = true
		}
	}

	nameOf := make(map[string]string, len(servants))
	for _, s := range servants {
		nameOf[s.ID] = s.Name
	}

	sections := make([]Section, 0, len(chosen)+1)
	for _, sid := range chosen {
		name := nameOf[sid]
		if name == "" {
			name = unknownServantName
		}
		sections = append(sections, Section{ServantID: sid, ServantName: name, Members: sorted(byServant[sid])})
	}

	var rest []model.Member
	for _, m := range members {
		if !picked[assignments[m.ID]] {
			rest = append(rest, m)
		}
	}
	if len(rest) > 0 {
		sections = append(sections, Section{ServantName: UnassignedName, Members: sorted(rest)})
	}
	return sections
}

func sorted(ms []model.Member) []model.Member {
	out := append([]model.Member(nil), ms...)
	names.SortBy(out, func(m model.Member) string { return m.Name })
	return out
}

// Distribute assigns the name-sorted roster round-robin across the first
// MaxServants servant ids. It returns nil when there are no servants.
func Distribute(members []model.Member, servantIDs []string) []model.Assignment {
	if len(servantIDs) == 0 {
		return nil
	}
	if len(servantIDs) > MaxServants {
		servantIDs = servantIDs[:MaxServants]
	}
	out := make([]model.Assignment, 0, len(members))
	for i, m := range sorted(members) {
		out = append(out, model.Assignment{MemberID: m.ID, ServantID: servantIDs[i%len(servantIDs)]})
	}
	return out
}

// CallLink is the tel: URI of the member's first phone with whitespace
// removed, or "" when the member has no phone.
func CallLink(m model.Member) string {
	phone := strings.Join(strings.Fields(m.FirstPhone()), "")
	if phone == "" {
		return ""
	}
	return "tel:" + phone
}
