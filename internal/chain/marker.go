// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package chain

import (
	"fmt"
	"os"
	"strings"
)

// MarkerMode selects how a recovery position marker bounds log replay.
type MarkerMode string

const (
	// ModeGTID means the marker carries a set of already-applied global
	// transaction identifiers; replay excludes events covered by the set.
	ModeGTID MarkerMode = "gtid"

	// ModePosition means the marker carries a (log file, offset) pair;
	// replay starts strictly after that position.
	ModePosition MarkerMode = "pos"
)

// Marker is the recovery position marker emitted by the full backup,
// parsed once into a tagged variant. It records the exact log coordinate
// at which the physical snapshot is consistent, the boundary between
// physical recovery and log replay.
//
// On-disk format (whitespace-delimited tokens, produced by the snapshot
// tool and only ever interpreted here):
//
//	>= 3 tokens: file pos gtid-set...   -> ModeGTID (tokens 3+ joined)
//	exactly 2:   file pos               -> ModePosition
type Marker struct {
	Mode MarkerMode

	// GTIDSet is the applied transaction-id set (ModeGTID only).
	GTIDSet string

	// File and Offset are the log position (ModePosition only). Offset
	// stays a string: it is passed verbatim to the replay tool.
	File   string
	Offset string
}

// ParseMarker parses marker file content. Empty content yields (nil, nil),
// which callers treat as an absent marker.
func ParseMarker(content string) (*Marker, error) {
	tokens := strings.Fields(content)
	switch {
	case len(tokens) == 0:
		return nil, nil
	case len(tokens) >= 3:
		return &Marker{Mode: ModeGTID, GTIDSet: strings.Join(tokens[2:], " ")}, nil
	case len(tokens) == 2:
		return &Marker{Mode: ModePosition, File: tokens[0], Offset: tokens[1]}, nil
	default:
		return nil, fmt.Errorf("chain: malformed recovery marker: %d token(s)", len(tokens))
	}
}

// Marker loads and parses the bucket's recovery position marker.
// An absent or empty marker file yields (nil, nil).
func (s *Store) Marker(bucket string) (*Marker, error) {
	data, err := os.ReadFile(s.lay.BaseBinlogInfo(bucket)) //nolint:gosec // G304: path comes from the layout resolver
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: read recovery marker: %w", err)
	}
	return ParseMarker(string(data))
}
