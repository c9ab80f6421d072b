package model

// Changed reports whether draft carries an edit that is not yet reflected in
// server.
//
// Only name, location and the writable slots of values known to the server are
// compared. Metadata fields are ignored, as are value ids present only in the
// draft. A draft value with ButtonPress set always counts as a change.
func Changed(server, draft Node) bool {
	if server.Name != draft.Name {
		return true
	}
	if server.Location != draft.Location {
		return true
	}
	for id, sv := range server.Values {
		dv, ok := draft.Values[id]
		if !ok {
			continue
		}
		if dv.String != sv.String || dv.ButtonPress {
			return true
		}
	}
	return false
}
