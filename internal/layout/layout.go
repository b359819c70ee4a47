// Package layout groups manifest media into recording locations for one file index.
package layout

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/gj2101/boutview/internal/dataset"
)

const channelPrefix = "channel_"

// Location holds the media of one recording location.
type Location struct {
	Name   string                 `json:"name"`
	Videos []dataset.ManifestItem `json:"videos"`
	Audios []dataset.ManifestItem `json:"audios"`
}

type Options struct {
	// ChannelsLast orders "channel_*" locations after every other location.
	ChannelsLast bool
}

func DefaultOptions() Options {
	return Options{ChannelsLast: true}
}

type Organized struct {
	ByLocation map[string]*Location `json:"byLocation"`
	Locations  []string             `json:"locations"`
}

// Location returns the media of name, or nil when the location has none at this file index.
func (o Organized) Location(name string) *Location {
	return o.ByLocation[name]
}

// Organize keeps the .mp4 and .wav items of fileIndex and groups them by location.
//
// Names follow "<exp>_<location>_<view>_..._<index>.mp4" for video and
// "<location tokens>_<index>.wav" for audio.
func Organize(m dataset.Manifest, fileIndex int, opts Options) Organized {
	out := Organized{ByLocation: make(map[string]*Location)}

	for _, item := range m {
		ext := path.Ext(item.Path)
		if ext != ".mp4" && ext != ".wav" {
			continue
		}
		tokens := nameTokens(item.Path)
		if indexOf(tokens) != fileIndex {
			continue
		}

		var loc string
		if ext == ".mp4" {
			if len(tokens) >= 2 {
				loc = tokens[1]
			}
		} else if len(tokens) >= 2 {
			loc = strings.Join(tokens[:len(tokens)-1], "_")
		}

		l, ok := out.ByLocation[loc]
		if !ok {
			l = &Location{Name: loc, Videos: []dataset.ManifestItem{}, Audios: []dataset.ManifestItem{}}
			out.ByLocation[loc] = l
		}
		if ext == ".mp4" {
			l.Videos = append(l.Videos, item)
		} else {
			l.Audios = append(l.Audios, item)
		}
	}

	for name := range out.ByLocation {
		out.Locations = append(out.Locations, name)
	}
	sort.Slice(out.Locations, func(i, j int) bool {
		a, b := out.Locations[i], out.Locations[j]
		if opts.ChannelsLast {
			ac, bc := strings.HasPrefix(a, channelPrefix), strings.HasPrefix(b, channelPrefix)
			if ac != bc {
				return bc
			}
		}
		at, bt := hasTopView(out.ByLocation[a]), hasTopView(out.ByLocation[b])
		if at != bt {
			return at
		}
		return a < b
	})
	return out
}

// SortVideos orders top views first and keeps the relative order of everything else.
func SortVideos(videos []dataset.ManifestItem) []dataset.ManifestItem {
	out := append([]dataset.ManifestItem(nil), videos...)
	sort.SliceStable(out, func(i, j int) bool {
		return isTopView(out[i]) && !isTopView(out[j])
	})
	return out
}

// nameTokens splits the base name, up to its first dot, on underscores.
func nameTokens(p string) []string {
	name := path.Base(p)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return strings.Split(name, "_")
}

// indexOf reads the leading digits of the trailing token. Anything else is index 0.
func indexOf(tokens []string) int {
	last := tokens[len(tokens)-1]
	end := 0
	for end < len(last) && last[end] >= '0' && last[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(last[:end])
	if err != nil {
		return 0
	}
	return n
}

func isTopView(item dataset.ManifestItem) bool {
	tokens := nameTokens(item.Path)
	return len(tokens) > 2 && tokens[2] == "top"
}

func hasTopView(l *Location) bool {
	for _, v := range l.Videos {
		if isTopView(v) {
			return true
		}
	}
	return false
}
