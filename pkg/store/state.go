package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/rager/pkg/daterange"
)

type stateContent struct {
	LastSyncedDay daterange.Day `json:"lastSyncedDay"`
}

// ReadLastSyncDay returns the persisted last synced day. ok is false when
// nothing has been persisted yet.
func (s *Store) ReadLastSyncDay() (day daterange.Day, ok bool, err error) {
	path := filepath.Join(s.root, StateFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return daterange.Day{}, false, nil
	}
	if err != nil {
		return daterange.Day{}, false, ioErr("read", path, err)
	}
	var content stateContent
	if err := json.Unmarshal(data, &content); err != nil {
		return daterange.Day{}, false, fmt.Errorf("could not parse state file %s: %w. It may be corrupt", path, err)
	}
	return content.LastSyncedDay, !content.LastSyncedDay.IsZero(), nil
}

// WriteLastSyncDay persists day atomically.
func (s *Store) WriteLastSyncDay(day daterange.Day) error {
	data, err := json.MarshalIndent(stateContent{LastSyncedDay: day}, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal state: %w", err)
	}
	_, err = s.writeAtomic(filepath.Join(s.root, StateFileName), bytes.NewReader(data))
	return err
}
