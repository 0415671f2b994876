package native

import (
	"path"
	"strings"

	"github.com/anacrolix/torrent"

	"torrentd/internal/domain"
)

type pieceRange struct {
	start int
	end   int
}

// fluffExtensions are the junk files SkipFluff drops: release-group notes,
// checksums and cover art that nobody asked to download.
var fluffExtensions = map[string]bool{
	".nfo":  true,
	".sfv":  true,
	".srr":  true,
	".txt":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

func isFluff(filePath string) bool {
	lower := strings.ToLower(filePath)
	if fluffExtensions[path.Ext(lower)] {
		return true
	}
	base := path.Base(lower)
	return strings.Contains(base, "sample")
}

// matchesAny reports whether any glob matches the path, tried against both
// the full path and its base name so "*.mkv" works without directory
// prefixes.
func matchesAny(globs []string, filePath string) bool {
	for _, glob := range globs {
		if ok, err := path.Match(glob, filePath); err == nil && ok {
			return true
		}
		if ok, err := path.Match(glob, path.Base(filePath)); err == nil && ok {
			return true
		}
	}
	return false
}

// effectivePriority resolves the selection rules for one file. Exclusion wins
// over inclusion; an explicit priority rule wins over the fluff filter.
func effectivePriority(filePath string, rules domain.FileSelectionRules) domain.FilePriority {
	if matchesAny(rules.Exclude, filePath) {
		return domain.FilePrioritySkip
	}
	if len(rules.Include) > 0 && !matchesAny(rules.Include, filePath) {
		return domain.FilePrioritySkip
	}
	for _, rule := range rules.Priorities {
		if matchesAny([]string{rule.Glob}, filePath) {
			return rule.Priority
		}
	}
	if rules.SkipFluff && isFluff(filePath) {
		return domain.FilePrioritySkip
	}
	return domain.FilePriorityNormal
}

func mapPriority(prio domain.FilePriority) torrent.PiecePriority {
	switch prio {
	case domain.FilePrioritySkip:
		return torrent.PiecePriorityNone
	case domain.FilePriorityHigh:
		return torrent.PiecePriorityHigh
	case domain.FilePriorityLow, domain.FilePriorityNormal:
		return torrent.PiecePriorityNormal
	default:
		return torrent.PiecePriorityNormal
	}
}

// applySelection pushes the resolved per-file priorities into the live
// torrent. Caller must know metadata is ready.
func applySelection(t *torrent.Torrent, rules domain.FileSelectionRules) {
	for _, f := range t.Files() {
		f.SetPriority(mapPriority(effectivePriority(f.DisplayPath(), rules)))
	}
}

// applySequentialWindow raises the first window incomplete pieces of the
// selected files so data lands roughly in playback order. Re-applied on every
// progress tick, which slides the window forward as pieces complete.
func applySequentialWindow(t *torrent.Torrent, rules domain.FileSelectionRules, window int) {
	applySelection(t, rules)
	raised := 0
	numPieces := t.NumPieces()
	for _, f := range t.Files() {
		if effectivePriority(f.DisplayPath(), rules) == domain.FilePrioritySkip {
			continue
		}
		span, ok := pieceSpan(int64(t.Info().PieceLength), f.Offset(), f.Length(), 0, f.Length())
		if !ok {
			continue
		}
		for i := span.start; i < span.end && i < numPieces; i++ {
			if t.PieceState(i).Complete {
				continue
			}
			t.Piece(i).SetPriority(torrent.PiecePriorityNext)
			raised++
			if raised >= window {
				return
			}
		}
	}
}

// pieceSpan maps a byte range within a file onto the piece indexes covering
// it. The range is clamped to the file's extent; a range that starts past the
// end yields no span.
func pieceSpan(pieceSize, fileOffset, fileLength, off, length int64) (pieceRange, bool) {
	if pieceSize <= 0 || fileLength <= 0 || length <= 0 {
		return pieceRange{}, false
	}
	start := fileOffset + off
	if start < fileOffset {
		start = fileOffset
	}
	fileEnd := fileOffset + fileLength
	if start >= fileEnd {
		return pieceRange{}, false
	}
	end := start + length
	if end > fileEnd || end < start {
		end = fileEnd
	}

	startPiece := int(start / pieceSize)
	endPiece := int((end + pieceSize - 1) / pieceSize)
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}

// describeFiles snapshots the torrent's file list with the selection rules
// resolved per file.
func describeFiles(t *torrent.Torrent, rules domain.FileSelectionRules) []domain.TorrentFile {
	files := t.Files()
	out := make([]domain.TorrentFile, 0, len(files))
	for i, f := range files {
		prio := effectivePriority(f.DisplayPath(), rules)
		out = append(out, domain.TorrentFile{
			Index:    i,
			Path:     f.DisplayPath(),
			Size:     f.Length(),
			Priority: prio,
			Selected: prio != domain.FilePrioritySkip,
		})
	}
	return out
}
