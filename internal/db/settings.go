package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/orrn/playlist/internal/core"
)

const (
	KeyBedClearScript    = "bed_clear_script"
	KeyStripStartMarker  = "strip_start_marker"
	KeyStripEndMarker    = "strip_end_marker"
	KeyAutoStartQueue    = "auto_start_queue"
	KeyAutoQueueFiles    = "auto_queue_files"
	KeyPlaylist          = "playlist"
	KeyStartTime         = "start_time"
	KeyBlackoutStartTime = "blackout_start_time"
	KeyBlackoutStopTime  = "blackout_stop_time"
	KeyAutoRepeatQueue   = "auto_repeat_queue"
)

// LoadSettings reads the playlist configuration. Missing keys keep their
// zero defaults and unparsable values are treated as missing.
func (o *SettingsOperations) LoadSettings(ctx context.Context) (core.Settings, error) {
	rows, err := o.ListSettings(ctx)
	if err != nil {
		return core.Settings{}, err
	}

	values := make(map[string]string, len(rows))
	for _, s := range rows {
		values[s.Key] = s.Value
	}

	s := core.Settings{
		BedClearScript:    values[KeyBedClearScript],
		StripStartMarker:  values[KeyStripStartMarker],
		StripEndMarker:    values[KeyStripEndMarker],
		AutoStartQueue:    parseBool(values[KeyAutoStartQueue]),
		AutoQueueFiles:    parseBool(values[KeyAutoQueueFiles]),
		StartTime:         values[KeyStartTime],
		BlackoutStartTime: values[KeyBlackoutStartTime],
		BlackoutStopTime:  values[KeyBlackoutStopTime],
		AutoRepeatQueue:   parseBool(values[KeyAutoRepeatQueue]),
		Playlist:          []core.Job{},
	}
	if raw := values[KeyPlaylist]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Playlist); err != nil {
			s.Playlist = []core.Job{}
		}
	}
	return s, nil
}

func (o *SettingsOperations) SavePlaylist(ctx context.Context, playlist []core.Job) error {
	if playlist == nil {
		playlist = []core.Job{}
	}
	data, err := json.Marshal(playlist)
	if err != nil {
		return fmt.Errorf("failed to encode playlist: %w", err)
	}
	return o.SetSetting(ctx, KeyPlaylist, string(data), false)
}

// SaveSettings writes every playlist setting in one transaction.
func (o *SettingsOperations) SaveSettings(ctx context.Context, s core.Settings) error {
	if s.Playlist == nil {
		s.Playlist = []core.Job{}
	}
	playlist, err := json.Marshal(s.Playlist)
	if err != nil {
		return fmt.Errorf("failed to encode playlist: %w", err)
	}

	values := map[string]string{
		KeyBedClearScript:    s.BedClearScript,
		KeyStripStartMarker:  s.StripStartMarker,
		KeyStripEndMarker:    s.StripEndMarker,
		KeyAutoStartQueue:    strconv.FormatBool(s.AutoStartQueue),
		KeyAutoQueueFiles:    strconv.FormatBool(s.AutoQueueFiles),
		KeyPlaylist:          string(playlist),
		KeyStartTime:         s.StartTime,
		KeyBlackoutStartTime: s.BlackoutStartTime,
		KeyBlackoutStopTime:  s.BlackoutStopTime,
		KeyAutoRepeatQueue:   strconv.FormatBool(s.AutoRepeatQueue),
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, SetSetting, key, value, false, value, false); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to set setting %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
