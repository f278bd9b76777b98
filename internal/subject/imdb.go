// Package subject loads enrichment subjects from the IMDb name.basics dump.
package subject

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// DefaultBatchSize is the number of subjects handed to the sink at once.
const DefaultBatchSize = 1000

// imdbNull marks a missing value in IMDb dumps.
const imdbNull = `\N`

// name.basics.tsv column positions.
const (
	colNconst = iota
	colName
	colBirthYear
	colDeathYear
	colProfessions
	minColumns = colDeathYear + 1
)

// Stats counts what an import saw.
type Stats struct {
	Read      int `json:"read"`
	Kept      int `json:"kept"`
	Alive     int `json:"alive"`
	Malformed int `json:"malformed"`
}

// Open returns a reader over path, decompressing gzip transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "subject: open %s", path)
	}
	br := bufio.NewReaderSize(f, 1<<16)
	magic, _ := br.Peek(2)
	if !bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		return readCloser{Reader: br, close: f.Close}, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "subject: gzip %s", path)
	}
	return readCloser{Reader: gz, close: func() error {
		gz.Close()
		return f.Close()
	}}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// ParseLine converts one name.basics row into a subject. ok is false for
// people with no death year.
func ParseLine(line string) (s model.Subject, ok bool, err error) {
	cols := strings.Split(line, "\t")
	if len(cols) < minColumns {
		return s, false, eris.Errorf("subject: expected %d columns, got %d", minColumns, len(cols))
	}
	id := strings.TrimSpace(cols[colNconst])
	if id == "" || id == imdbNull {
		return s, false, eris.New("subject: missing nconst")
	}

	death, err := model.ParsePartialDate(cols[colDeathYear])
	if err != nil {
		return s, false, eris.Wrapf(err, "subject: %s death year", id)
	}
	if death == nil {
		return s, false, nil
	}
	birth, err := model.ParsePartialDate(cols[colBirthYear])
	if err != nil {
		return s, false, eris.Wrapf(err, "subject: %s birth year", id)
	}

	name := cols[colName]
	if name == imdbNull {
		name = ""
	}
	s = model.Subject{
		ID:     id,
		IMDbID: id,
		Name:   strings.TrimSpace(name),
		Birth:  birth,
		Death:  death,
	}
	if len(cols) > colProfessions && cols[colProfessions] != imdbNull && cols[colProfessions] != "" {
		s.PrimaryProfessions = strings.Split(cols[colProfessions], ",")
	}
	return s, true, nil
}

// Import streams r and hands batches of deceased subjects to sink. Malformed
// rows are counted and skipped.
func Import(ctx context.Context, r io.Reader, batchSize int, sink func(context.Context, []model.Subject) error) (Stats, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var (
		stats Stats
		batch = make([]model.Subject, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink(ctx, batch); err != nil {
			return eris.Wrapf(err, "subject: flush after %d rows", stats.Read)
		}
		batch = make([]model.Subject, 0, batchSize)
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "subject: import cancelled")
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if first {
			first = false
			if strings.HasPrefix(line, "nconst\t") {
				continue
			}
		}
		if line == "" {
			continue
		}
		stats.Read++

		s, ok, err := ParseLine(line)
		switch {
		case err != nil:
			stats.Malformed++
			zap.L().Debug("subject: skipping malformed row", zap.Int("row", stats.Read), zap.Error(err))
			continue
		case !ok:
			stats.Alive++
			continue
		}
		stats.Kept++
		batch = append(batch, s)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return stats, eris.Wrap(err, "subject: scan")
	}
	return stats, flush()
}
