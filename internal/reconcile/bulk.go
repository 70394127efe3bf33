package reconcile

import "leveltwo/internal/model"

// State maps member id to the record of the selected date.
type State map[string]model.Record

// Clone returns a shallow copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// MarkAll sets status on every id, keeping whatever else the entry held.
func MarkAll(s State, ids []string, date string, status model.Status) State {
	out := s.Clone()
	for _, id := range ids {
		rec, ok := out[id]
		if !ok {
			rec = model.Record{MemberID: id, Date: date}
		}
		rec.Status = status
		out[id] = rec
	}
	return out
}

// MarkRemaining sets status only on ids that have no entry yet.
func MarkRemaining(s State, ids []string, date string, status model.Status) State {
	out := s.Clone()
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		out[id] = model.Record{MemberID: id, Date: date, Status: status}
	}
	return out
}

// ResetFiltered drops the entries of ids.
func ResetFiltered(s State, ids []string) State {
	out := s.Clone()
	for _, id := range ids {
		delete(out, id)
	}
	return out
}
