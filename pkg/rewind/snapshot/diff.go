package snapshot

import (
	"sort"

	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// Diff returns the events that transform old into new. Timestamps are left
// zero for the caller to stamp.
//
// Deletions come first, deepest paths first, so a directory is deleted after
// its children. Creations follow, shallowest first, so a directory is created
// before its children. Modifications come last. Equal depths are ordered by
// root, then path. A path whose kind changes is deleted and re-created.
// Applying any prefix of the result to old keeps every parent present.
func Diff(old, new *Snapshot) []types.Event {
	var created, modified, deleted []types.Entry

	for _, k := range new.order {
		n := new.entries[k]
		o, ok := old.entries[k]
		switch {
		case !ok:
			created = append(created, n)
		case o.IsDir != n.IsDir:
			deleted = append(deleted, o)
			created = append(created, n)
		case !n.IsDir && changed(o, n):
			modified = append(modified, n)
		}
	}
	for _, k := range old.order {
		if _, ok := new.entries[k]; !ok {
			deleted = append(deleted, old.entries[k])
		}
	}

	sort.Slice(deleted, func(i, j int) bool {
		di, dj := types.Depth(deleted[i].Path), types.Depth(deleted[j].Path)
		if di != dj {
			return di > dj
		}
		return deleted[i].Key().Less(deleted[j].Key())
	})
	sort.Slice(created, func(i, j int) bool {
		di, dj := types.Depth(created[i].Path), types.Depth(created[j].Path)
		if di != dj {
			return di < dj
		}
		return created[i].Key().Less(created[j].Key())
	})
	sort.Slice(modified, func(i, j int) bool {
		return modified[i].Key().Less(modified[j].Key())
	})

	events := make([]types.Event, 0, len(deleted)+len(created)+len(modified))
	for _, e := range deleted {
		events = append(events, types.NewEvent(types.Deleted, e))
	}
	for _, e := range created {
		events = append(events, types.NewEvent(types.Created, e))
	}
	for _, e := range modified {
		events = append(events, types.NewEvent(types.Modified, e))
	}
	return events
}

func changed(o, n types.Entry) bool {
	if o.Size != n.Size || o.Lines != n.Lines {
		return true
	}
	if (o.Content == nil) != (n.Content == nil) {
		return true
	}
	if o.Content != nil && *o.Content != *n.Content {
		return true
	}
	return o.Fingerprint != "" && n.Fingerprint != "" && o.Fingerprint != n.Fingerprint
}
