package reconcile

import "leveltwo/internal/model"

// Names resolves ids for notification text.
type Names interface {
	MemberName(id string) string
	UserName(id string) string
}

// Notification describes a change another writer made to the selected date.
type Notification struct {
	MemberID string
	Status   model.Status
	Actor    string
	Deleted  bool
	Text     string
}

func (r *Reconciler) describe(n Notification) Notification {
	member, actor := n.MemberID, n.Actor
	if r.names != nil {
		member = r.names.MemberName(n.MemberID)
		if actor != "" {
			actor = r.names.UserName(actor)
		}
	}
	switch {
	case n.Deleted:
		n.Text = "تم حذف سجل " + member
	case actor != "":
		n.Text = actor + " سجّل " + member + ": " + n.Status.Label()
	default:
		n.Text = member + ": " + n.Status.Label()
	}
	return n
}
