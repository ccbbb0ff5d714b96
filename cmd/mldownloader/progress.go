package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"mldownloader/internal/session"
)

// startProgress draws a single-line progress bar from session snapshots.
// Call the returned stop() when the operation ends.
func startProgress(ctrl *session.Controller, w io.Writer) func() {
	var mu sync.Mutex
	last := float32(-1)
	drawn := false
	unsubscribe := ctrl.Subscribe(func(s session.State) {
		mu.Lock()
		defer mu.Unlock()
		if s.DownloadProgress == last {
			return
		}
		last = s.DownloadProgress
		drawn = true
		fmt.Fprintf(w, "\r%s %6.2f%%  %s", renderBar(s.DownloadProgress, 30), s.DownloadProgress*100, s.ModelName)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			if drawn {
				fmt.Fprintln(w)
			}
		})
	}
}

func renderBar(fraction float32, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float32(width))
	if filled >= width {
		return "[" + strings.Repeat("=", width) + "]"
	}
	return "[" + strings.Repeat("=", filled) + ">" + strings.Repeat(" ", width-filled-1) + "]"
}
