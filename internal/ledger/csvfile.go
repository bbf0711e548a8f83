package ledger

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"keyredeem/internal/fileutil"
)

const byteOrderMark = "\ufeff"

const (
	colGamekey    = "gamekey"
	colHumanName  = "human_name"
	colValue      = "redeemed_key_val"
	colKeyType    = "key_type"
	colSteamAppID = "steam_app_id"
	colReason     = "reason"
	colConfidence = "confidence"
)

var (
	baseHeader   = []string{colGamekey, colHumanName, colValue}
	friendHeader = []string{colGamekey, colHumanName, colValue, colKeyType, colSteamAppID, colReason, colConfidence}
)

func headerFor(b Bucket) []string {
	if b == FriendKeys {
		return friendHeader
	}
	return baseHeader
}

// fileStamp identifies one observed version of a bucket file.
type fileStamp struct {
	exists  bool
	size    int64
	modTime time.Time
}

func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileStamp{}, nil
		}
		return fileStamp{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return fileStamp{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}

// readEntries parses a bucket file. Columns are located by header name so
// files with legacy column orders load; a file without a header row is read
// positionally as gamekey,human_name,redeemed_key_val.
func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte(byteOrderMark))

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(data)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	columns := map[string]int{colGamekey: 0, colHumanName: 1, colValue: 2}
	var entries []Entry
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if first {
			first = false
			if isHeader(row) {
				columns = make(map[string]int, len(row))
				for i, name := range row {
					columns[normalizeColumn(name)] = i
				}
				continue
			}
		}
		entry, ok := rowToEntry(row, columns)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func isHeader(row []string) bool {
	for _, cell := range row {
		if normalizeColumn(cell) == colGamekey {
			return true
		}
	}
	return false
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, byteOrderMark)))
	return strings.TrimSuffix(name, "%")
}

func rowToEntry(row []string, columns map[string]int) (Entry, bool) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	entry := Entry{
		Gamekey:       field(colGamekey),
		HumanName:     field(colHumanName),
		RevealedValue: field(colValue),
	}
	if entry.Gamekey == "" && entry.HumanName == "" {
		return Entry{}, false
	}
	_, hasReason := columns[colReason]
	if hasReason {
		detail := &FriendDetail{KeyType: field(colKeyType), Reason: field(colReason)}
		if id, err := strconv.ParseInt(field(colSteamAppID), 10, 64); err == nil {
			detail.SteamAppID = id
		}
		if c, err := strconv.ParseFloat(field(colConfidence), 64); err == nil {
			if c > 1 {
				c /= 100
			}
			detail.Confidence = c
		}
		entry.Friend = detail
	}
	return entry, true
}

func entryToRow(b Bucket, e Entry) []string {
	return entryToColumns(headerFor(b), b, e)
}

// entryToColumns lays the entry out in the given column order. Rows of the
// plain buckets drop trailing empty cells so an unrevealed key is written as
// gamekey,human_name.
func entryToColumns(header []string, b Bucket, e Entry) []string {
	detail := e.Friend
	if detail == nil {
		detail = &FriendDetail{}
	}
	values := map[string]string{
		colGamekey:   e.Gamekey,
		colHumanName: e.HumanName,
		colValue:     e.RevealedValue,
	}
	if b == FriendKeys {
		values[colKeyType] = detail.KeyType
		if detail.SteamAppID != 0 {
			values[colSteamAppID] = strconv.FormatInt(detail.SteamAppID, 10)
		}
		values[colReason] = detail.Reason
		values[colConfidence] = strconv.FormatFloat(detail.Confidence, 'f', 2, 64)
	}
	row := make([]string, len(header))
	for i, name := range header {
		row[i] = values[normalizeColumn(name)]
	}
	if b != FriendKeys {
		for len(row) > 2 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
	}
	return row
}

// existingHeader returns the column order of a non-empty bucket file.
func existingHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	line, err := bufio.NewReader(file).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(line, byteOrderMark)))
	reader.FieldsPerRecord = -1
	row, err := reader.Read()
	if err != nil || !isHeader(row) {
		return baseHeader, nil
	}
	return row, nil
}

// appendEntry appends one row, writing the BOM and header first when the
// file is new or empty, and fsyncs before returning.
func appendEntry(path string, b Bucket, e Entry) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}

	buf := bufio.NewWriter(file)
	if info.Size() == 0 {
		if _, err := buf.WriteString(byteOrderMark); err != nil {
			file.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	writer := csv.NewWriter(buf)
	header := headerFor(b)
	if info.Size() == 0 {
		_ = writer.Write(header)
	} else {
		if header, err = existingHeader(path); err != nil {
			file.Close()
			return fmt.Errorf("read header of %s: %w", path, err)
		}
		if !endsWithNewline(path, info.Size()) {
			_ = buf.WriteByte('\n')
		}
	}
	_ = writer.Write(entryToColumns(header, b, e))
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := buf.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return file.Close()
}

func endsWithNewline(path string, size int64) bool {
	file, err := os.Open(path)
	if err != nil {
		return true
	}
	defer file.Close()
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return true
	}
	return last[0] == '\n'
}

// rewriteEntries replaces the file contents atomically.
func rewriteEntries(path string, b Bucket, entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteString(byteOrderMark)
	writer := csv.NewWriter(&buf)
	_ = writer.Write(headerFor(b))
	for _, e := range entries {
		_ = writer.Write(entryToRow(b, e))
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := fileutil.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	return nil
}
