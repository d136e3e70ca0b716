// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// WriteM3U renders the playlist as an extended M3U so the rotation can be
// inspected or replayed with any media player.
func WriteM3U(w io.Writer, p *Playlist) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	if p != nil {
		fmt.Fprintf(buf, "#PLAYLIST:%s\n", sanitizeTitle(p.Name))
		for _, it := range p.Items {
			fmt.Fprintf(buf, `#EXTINF:%d signplay-id="%s" signplay-type="%s",%s`+"\n",
				it.Duration, it.ID, it.Type, sanitizeTitle(it.Name))
			buf.WriteString(it.URL + "\n")
		}
	}
	_, err := io.Copy(w, buf)
	return err
}

func sanitizeTitle(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
