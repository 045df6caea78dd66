package clientapp

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Note is the resource server's wire representation of a note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteStats summarizes one note for the dashboard.
type NoteStats struct {
	ID        string
	Title     string
	WordCount int
}

// WordCount is one entry of the word frequency ranking.
type WordCount struct {
	Word  string
	Count int
}

// Analytics aggregates the user's notes for the dashboard view.
type Analytics struct {
	TotalNotes               int
	TotalWords               int
	TotalCharacters          int
	AverageWordsPerNote      int
	AverageCharactersPerNote int
	LongestNote              *NoteStats
	ShortestNote             *NoteStats
	NotesPerMonth            map[string]int
	WordFrequency            []WordCount
}

const topWords = 10

// AnalyzeNotes computes dashboard statistics over the user's notes.
func AnalyzeNotes(notes []Note) Analytics {
	analytics := Analytics{
		TotalNotes:    len(notes),
		NotesPerMonth: map[string]int{},
		WordFrequency: []WordCount{},
	}
	if len(notes) == 0 {
		return analytics
	}

	stats := make([]NoteStats, len(notes))
	var allContent strings.Builder
	for i, note := range notes {
		stats[i] = NoteStats{
			ID:        note.ID,
			Title:     note.Title,
			WordCount: countWords(note.Content),
		}
		analytics.TotalWords += stats[i].WordCount
		analytics.TotalCharacters += len([]rune(note.Content))
		analytics.NotesPerMonth[note.CreatedAt.Format("2006-01")]++
		allContent.WriteString(note.Content)
		allContent.WriteString(" ")
	}

	analytics.AverageWordsPerNote = int(math.Round(float64(analytics.TotalWords) / float64(len(notes))))
	analytics.AverageCharactersPerNote = int(math.Round(float64(analytics.TotalCharacters) / float64(len(notes))))

	byLength := make([]NoteStats, len(stats))
	copy(byLength, stats)
	sort.SliceStable(byLength, func(i, j int) bool {
		return byLength[i].WordCount > byLength[j].WordCount
	})
	analytics.LongestNote = &byLength[0]
	analytics.ShortestNote = &byLength[len(byLength)-1]

	analytics.WordFrequency = wordFrequency(allContent.String(), topWords)
	return analytics
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// wordFrequency ranks words longer than three characters by occurrence.
// Punctuation is stripped and comparison is case-insensitive.
func wordFrequency(text string, topN int) []WordCount {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return -1
	}, text)

	counts := map[string]int{}
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) > 3 {
			counts[word]++
		}
	}

	ranking := make([]WordCount, 0, len(counts))
	for word, count := range counts {
		ranking = append(ranking, WordCount{Word: word, Count: count})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Count != ranking[j].Count {
			return ranking[i].Count > ranking[j].Count
		}
		return ranking[i].Word < ranking[j].Word
	})
	if len(ranking) > topN {
		ranking = ranking[:topN]
	}
	return ranking
}
