// Package stl exports teletext caption streams as EBU-Tech 3264 subtitle
// files. Roll-up captions repeat the same sentence frame after frame as it
// is built up word by word; the exporter tracks content across frames and
// emits one TTI block per logically-distinct subtitle, spanning first
// appearance to clear.
package stl

import (
	"fmt"
	"io"
	"sort"

	"github.com/ttxtool/ttx-tool/internal/packet"
	"github.com/ttxtool/ttx-tool/internal/t42"
	"github.com/ttxtool/ttx-tool/internal/timecode"
)

// DefaultClearDelayFrames is how many frames a subtitle may disappear and
// still grow back into the same TTI.
const DefaultClearDelayFrames = 30

// Config tunes an Exporter.
type Config struct {
	// ClearDelayFrames overrides DefaultClearDelayFrames when > 0; a
	// negative value disables the grace period entirely.
	ClearDelayFrames int
	// Magazine filters lines to one magazine; 0 accepts all.
	Magazine int
	// Rows filters which rows are considered caption content; nil means
	// rows 1..24. Row 0 is never content.
	Rows t42.Rows
	// Title is written into the GSI original title field.
	Title string
}

// trackedContent is a subtitle currently on screen.
type trackedContent struct {
	text        string
	row         int
	data        [t42.LineSize]byte
	firstSeenAt timecode.Timecode
	lastSeenAt  timecode.Timecode
	seq         int
}

// pendingClear is a subtitle that left the screen and may still grow back.
type pendingClear struct {
	content      *trackedContent
	clearedAt    timecode.Timecode
	framesWaited int
}

// subtitle is a finalized TTI-to-be.
type subtitle struct {
	text  string
	row   int
	data  [t42.LineSize]byte
	tcIn  timecode.Timecode
	tcOut timecode.Timecode
	seq   int
}

// Exporter consumes packets and writes a complete STL file on Flush.
// It never fails on caption content; malformed payload bytes degrade to
// spaces.
type Exporter struct {
	w   io.Writer
	cfg Config

	active  map[string]*trackedContent
	pending map[string]*pendingClear

	finalized []subtitle
	seq       int
	lastTC    timecode.Timecode
}

// NewExporter creates an exporter writing to w on Flush.
func NewExporter(w io.Writer, cfg Config) *Exporter {
	if cfg.ClearDelayFrames == 0 {
		cfg.ClearDelayFrames = DefaultClearDelayFrames
	} else if cfg.ClearDelayFrames < 0 {
		cfg.ClearDelayFrames = 0
	}
	if cfg.Rows == nil {
		cfg.Rows = t42.CaptionRows()
	}
	return &Exporter{
		w:       w,
		cfg:     cfg,
		active:  make(map[string]*trackedContent),
		pending: make(map[string]*pendingClear),
	}
}

// ProcessPacket advances the tracker by one frame.
func (e *Exporter) ProcessPacket(p *packet.Packet) {
	e.lastTC = p.Timecode

	// 1. collect this frame's caption content, keyed by normalized text;
	// same text on several rows: last one wins
	current := make(map[string]*packet.Line)
	for i := range p.Lines {
		l := &p.Lines[i]
		if l.Row == 0 || !e.cfg.Rows[l.Row] {
			continue
		}
		if e.cfg.Magazine != 0 && l.Magazine != e.cfg.Magazine {
			continue
		}
		text := NormalizeText(t42.DecodeText(l.Data[:], l.Row))
		if text == "" {
			continue
		}
		current[text] = l
	}

	// 2. match content against tracked state
	for _, text := range mapKeys(current) {
		line := current[text]
		if tc, ok := e.active[text]; ok {
			tc.row = line.Row
			tc.lastSeenAt = p.Timecode
			tc.data = line.Data
			continue
		}
		if prev := findGrowing(e.active, text); prev != "" {
			old := e.active[prev]
			delete(e.active, prev)
			old.text = text
			old.row = line.Row
			old.data = line.Data
			old.lastSeenAt = p.Timecode
			e.active[text] = old
			continue
		}
		if prev := findGrowing(e.pending, text); prev != "" {
			old := e.pending[prev].content
			delete(e.pending, prev)
			old.text = text
			old.row = line.Row
			old.data = line.Data
			old.lastSeenAt = p.Timecode
			e.active[text] = old
			continue
		}
		e.seq++
		e.active[text] = &trackedContent{
			text:        text,
			row:         line.Row,
			data:        line.Data,
			firstSeenAt: p.Timecode,
			lastSeenAt:  p.Timecode,
			seq:         e.seq,
		}
	}

	// 3. anything no longer on screen starts its clear countdown
	for _, text := range mapKeys(e.active) {
		if _, ok := current[text]; ok {
			continue
		}
		e.pending[text] = &pendingClear{content: e.active[text], clearedAt: p.Timecode}
		delete(e.active, text)
	}

	// 4. age the countdowns, then finalize expired entries in a separate
	// pass so an entry is never emitted and iterated in the same sweep
	for _, pc := range e.pending {
		pc.framesWaited++
	}
	var expired []string
	for text, pc := range e.pending {
		if pc.framesWaited >= e.cfg.ClearDelayFrames {
			expired = append(expired, text)
		}
	}
	sort.Strings(expired)
	for _, text := range expired {
		pc := e.pending[text]
		delete(e.pending, text)
		e.finalize(pc.content, pc.clearedAt)
	}
}

// findGrowing returns the tracked key that text grows from, or "".
// Candidates are scanned in deterministic key order.
func findGrowing[V any](m map[string]V, text string) string {
	for _, k := range mapKeys(m) {
		if IsTextGrowing(k, text) {
			return k
		}
	}
	return ""
}

func (e *Exporter) finalize(tc *trackedContent, out timecode.Timecode) {
	e.finalized = append(e.finalized, subtitle{
		text:  tc.text,
		row:   tc.row,
		data:  tc.data,
		tcIn:  tc.firstSeenAt,
		tcOut: out,
		seq:   tc.seq,
	})
}

// Flush finalizes every outstanding subtitle (pending clears at their
// clear frame, still-active content at the last observed packet timecode)
// and writes the GSI block followed by the TTI blocks, ordered by
// non-decreasing in-cue, ties broken by creation order.
func (e *Exporter) Flush() error {
	for _, text := range mapKeys(e.pending) {
		pc := e.pending[text]
		e.finalize(pc.content, pc.clearedAt)
	}
	e.pending = make(map[string]*pendingClear)
	for _, text := range mapKeys(e.active) {
		e.finalize(e.active[text], e.lastTC)
	}
	e.active = make(map[string]*trackedContent)

	sort.SliceStable(e.finalized, func(i, j int) bool {
		a, b := e.finalized[i], e.finalized[j]
		if fa, fb := a.tcIn.FrameNumber(), b.tcIn.FrameNumber(); fa != fb {
			return fa < fb
		}
		return a.seq < b.seq
	})

	if _, err := e.w.Write(buildGSI(e.cfg.Title, len(e.finalized))); err != nil {
		return fmt.Errorf("stl: write gsi: %w", err)
	}
	for i, sub := range e.finalized {
		if _, err := e.w.Write(buildTTI(i+1, sub)); err != nil {
			return fmt.Errorf("stl: write tti %d: %w", i+1, err)
		}
	}
	return nil
}

// SubtitleCount reports how many TTIs have been finalized so far.
func (e *Exporter) SubtitleCount() int { return len(e.finalized) }

// mapKeys returns m's keys in sorted order, for deterministic sweeps.
func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
