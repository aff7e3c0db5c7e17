package imageset

// Priority picks the entry that receives the feature flag when the current
// feature leaves the effective set. isMarked reports whether an existing image
// is marked for deletion. It returns false when nothing is eligible.
//
// Implementations must not modify the slices they are given.
type Priority func(existing []ExistingImage, added []NewImage, isMarked func(id string) bool) (Identity, bool)

// ExistingFirst prefers the first unmarked existing image in list order and
// falls back to the first new image in insertion order.
func ExistingFirst(existing []ExistingImage, added []NewImage, isMarked func(id string) bool) (Identity, bool) {
	for _, img := range existing {
		if !isMarked(img.ID) {
			return ExistingID(img.ID), true
		}
	}
	if len(added) > 0 {
		return NewRef(added[0].LocalRef), true
	}
	return Identity{}, false
}

// NewFirst prefers the first new image and falls back to the first unmarked
// existing image.
func NewFirst(existing []ExistingImage, added []NewImage, isMarked func(id string) bool) (Identity, bool) {
	if len(added) > 0 {
		return NewRef(added[0].LocalRef), true
	}
	return ExistingFirst(existing, nil, isMarked)
}

// cascade hands the feature flag to the entry chosen by the priority. It only
// sets a flag; clearing stale flags is left to enforce.
func (m *Manager) cascade() {
	if m.EffectiveCount() == 0 {
		return
	}
	if _, ok := m.Feature(); ok {
		return
	}

	next, ok := m.priority(m.existing, m.added, m.IsMarked)
	if !ok || !m.isEffective(next) {
		// a custom priority that names nothing usable falls back to the default
		next, ok = ExistingFirst(m.existing, m.added, m.IsMarked)
		if !ok {
			return
		}
	}
	m.setFlag(next, true)

	m.logger.Debug().
		Str("kind", string(next.Kind)).
		Str("key", next.Key).
		Msg("feature image reassigned")
}

// enforce restores the single-feature invariant over the effective set.
// When several effective entries are flagged, keep wins if it is one of them,
// otherwise the first flagged in existing-then-new order.
func (m *Manager) enforce(keep Identity) {
	if m.EffectiveCount() == 0 {
		return
	}

	flagged := m.flaggedEffective()
	switch len(flagged) {
	case 0:
		m.cascade()
		return
	case 1:
		return
	}

	winner := flagged[0]
	for _, id := range flagged {
		if id == keep {
			winner = keep
			break
		}
	}
	for _, id := range flagged {
		if id != winner {
			m.setFlag(id, false)
		}
	}
}

func (m *Manager) flaggedEffective() []Identity {
	var out []Identity
	for _, img := range m.existing {
		if img.IsFeature && !m.IsMarked(img.ID) {
			out = append(out, ExistingID(img.ID))
		}
	}
	for _, img := range m.added {
		if img.IsFeature {
			out = append(out, NewRef(img.LocalRef))
		}
	}
	return out
}

func (m *Manager) setFlag(id Identity, v bool) {
	switch id.Kind {
	case KindExisting:
		if i := m.indexExisting(id.Key); i >= 0 {
			m.existing[i].IsFeature = v
		}
	case KindNew:
		if i := m.indexNew(id.Key); i >= 0 {
			m.added[i].IsFeature = v
		}
	}
}
