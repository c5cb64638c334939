package balance

// pendingSlot is either empty or holds exactly one update
type pendingSlot struct {
	update  Update
	present bool
}

func noPending() pendingSlot {
	return pendingSlot{}
}

func pendingOf(u Update) pendingSlot {
	return pendingSlot{update: u, present: true}
}

func (p pendingSlot) get() (Update, bool) {
	return p.update, p.present
}

// offer replaces the held update if the slot is empty or u is newer.
// It reports whether u was kept.
func (p *pendingSlot) offer(u Update) bool {
	if p.present && u.Seq <= p.update.Seq {
		return false
	}
	*p = pendingOf(u)
	return true
}
