package snapshot

import "time"

// ExportDocument bundles every snapshot for one room for offline transfer.
type ExportDocument struct {
	RoomID     string     `json:"room_id"`
	ExportedAt time.Time  `json:"exported_at"`
	Count      int        `json:"snapshot_count"`
	Snapshots  []Snapshot `json:"snapshots"`
}

// Export collects all snapshots for a room into a transferable document.
// Works over any Store implementation.
func Export(store Store, roomID string) (ExportDocument, error) {
	metas, err := store.List(roomID, 0, 0)
	if err != nil {
		return ExportDocument{}, err
	}

	snapshots := make([]Snapshot, 0, len(metas))

	for _, meta := range metas {
		snap, err := store.Get(meta.ID)
		if err != nil {
			return ExportDocument{}, err
		}

		snapshots = append(snapshots, snap)
	}

	return ExportDocument{
		RoomID:     roomID,
		ExportedAt: time.Now(),
		Count:      len(snapshots),
		Snapshots:  snapshots,
	}, nil
}

// Import stores previously exported snapshots under the given room, assigning
// fresh snapshot IDs. Entries that fail to store are skipped; the count of
// imported snapshots is returned.
func Import(store Store, roomID string, snapshots []Snapshot) (int, error) {
	imported := 0

	for _, snap := range snapshots {
		createdBy := snap.CreatedBy
		if createdBy == "" {
			createdBy = "import"
		}

		if _, err := store.Create(roomID, snap.State, createdBy, snap.Version); err != nil {
			continue
		}

		imported++
	}

	return imported, nil
}
