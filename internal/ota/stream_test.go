package ota

import "testing"

func TestParseRange(t *testing.T) {
	cases := []struct {
		name       string
		header     string
		total      int64
		start, end int64
		wantErr    bool
	}{
		{name: "full range", header: "bytes=0-49", total: 100, start: 0, end: 49},
		{name: "open end", header: "bytes=50-", total: 100, start: 50, end: 99},
		{name: "single byte", header: "bytes=99-99", total: 100, start: 99, end: 99},
		{name: "no prefix", header: "0-49", total: 100, wantErr: true},
		{name: "suffix form", header: "bytes=-500", total: 100, wantErr: true},
		{name: "multi range", header: "bytes=0-10,20-30", total: 100, wantErr: true},
		{name: "end before start", header: "bytes=10-5", total: 100, wantErr: true},
		{name: "garbage", header: "bytes=abc-def", total: 100, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, err := parseRange(tc.header, tc.total)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseRange(%q) = %d-%d, want error", tc.header, start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRange(%q): %v", tc.header, err)
			}
			if start != tc.start || end != tc.end {
				t.Fatalf("parseRange(%q) = %d-%d, want %d-%d", tc.header, start, end, tc.start, tc.end)
			}
		})
	}
}

func TestSatisfiable(t *testing.T) {
	// Начало или конец за границей файла — 416.
	if satisfiable(100, 100, 100) || satisfiable(0, 100, 100) || satisfiable(150, 200, 100) {
		t.Fatal("range past EOF reported satisfiable")
	}
	if !satisfiable(0, 99, 100) || !satisfiable(99, 99, 100) {
		t.Fatal("valid range reported unsatisfiable")
	}
}

func TestProgressWriterQuartiles(t *testing.T) {
	var marks []int
	pw := &progressWriter{
		length:     100,
		onQuartile: func(p int, _ int64) { marks = append(marks, p) },
	}
	for i := 0; i < 10; i++ {
		pw.add(10)
	}
	want := []int{25, 50, 75}
	if len(marks) != len(want) {
		t.Fatalf("marks = %v, want %v", marks, want)
	}
	for i := range want {
		if marks[i] != want[i] {
			t.Fatalf("marks = %v, want %v", marks, want)
		}
	}
	if pw.written != 100 {
		t.Fatalf("written = %d, want 100", pw.written)
	}
}

func TestProgressWriterBigChunks(t *testing.T) {
	// Один большой кусок перешагивает несколько четвертей сразу.
	var marks []int
	pw := &progressWriter{
		length:     100,
		onQuartile: func(p int, _ int64) { marks = append(marks, p) },
	}
	pw.add(80)
	if len(marks) != 3 || marks[0] != 25 || marks[2] != 75 {
		t.Fatalf("marks = %v, want [25 50 75]", marks)
	}
	pw.add(20) // добор до 100% четверть не дёргает — это download_complete
	if len(marks) != 3 {
		t.Fatalf("marks after completion = %v", marks)
	}
}
