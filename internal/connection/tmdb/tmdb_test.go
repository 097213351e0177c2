package tmdb

import (
	"testing"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
)

func TestRank(t *testing.T) {
	c := &Client{languages: []string{"de", "en"}}
	images := []connection.RemoteImage{
		{URL: "en-720p-voted", Width: 1280, Height: 720, Language: "en", VoteAverage: 9.5},
		{URL: "en-1080p", Width: 1920, Height: 1080, Language: "en", VoteAverage: 4.0},
		{URL: "de-360p", Width: 640, Height: 360, Language: "de", VoteAverage: 1.0},
		{URL: "untranslated-4k", Width: 3840, Height: 2160, Language: "", VoteAverage: 10},
	}
	c.rank(images)

	// Language priority wins outright; within a language the larger image
	// beats the better-voted one.
	want := []string{"de-360p", "en-1080p", "en-720p-voted", "untranslated-4k"}
	for i := range want {
		if images[i].URL != want[i] {
			t.Errorf("rank()[%d] = %s, want %s", i, images[i].URL, want[i])
		}
	}
}

func TestRank_VoteBreaksAreaTies(t *testing.T) {
	c := &Client{}
	images := []connection.RemoteImage{
		{URL: "low-vote", Width: 1920, Height: 1080, VoteAverage: 2},
		{URL: "high-vote", Width: 1920, Height: 1080, VoteAverage: 8},
	}
	c.rank(images)
	if images[0].URL != "high-vote" {
		t.Errorf("rank()[0] = %s, want high-vote", images[0].URL)
	}
}
