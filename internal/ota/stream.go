package ota

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errBadRange = errors.New("malformed range header")

// parseRange разбирает одиночный диапазон "bytes=start-end".
// start обязателен, end опционален (по умолчанию total-1).
// Мультидиапазоны (bytes=0-10,20-30) и суффиксная форма (bytes=-500)
// не поддерживаются.
func parseRange(header string, total int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, errBadRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, errBadRange
	}
	first, second, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errBadRange
	}
	start, err = strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errBadRange
	}
	if s := strings.TrimSpace(second); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil || end < start {
			return 0, 0, errBadRange
		}
	} else {
		end = total - 1
	}
	return start, end, nil
}

// satisfiable — условие из протокола: за границей файла — 416.
func satisfiable(start, end, total int64) bool {
	return start < total && end < total
}

func contentRange(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// progressWriter считает отданные байты и дёргает onQuartile при пересечении
// каждой четверти объёма (25/50/75). Завершение фиксирует вызывающий,
// сверив written с заявленной длиной.
type progressWriter struct {
	written    int64
	length     int64
	lastMark   int // последняя пройденная четверть, в процентах
	onQuartile func(percent int, written int64)
}

func (p *progressWriter) add(n int) {
	p.written += int64(n)
	if p.length <= 0 || p.onQuartile == nil {
		return
	}
	for _, mark := range [...]int{25, 50, 75} {
		if mark <= p.lastMark {
			continue
		}
		if p.written*100 >= int64(mark)*p.length && p.written < p.length {
			p.lastMark = mark
			p.onQuartile(mark, p.written)
		}
	}
}
