package notify

import (
	"encoding/json"
	"time"
)

// logEvent is the JSON body published by the messaging sinks.
type logEvent struct {
	Codename string    `json:"codename"`
	Level    string    `json:"level"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// fileEvent announces an upload; the bytes themselves stay on disk.
type fileEvent struct {
	Codename string    `json:"codename"`
	Name     string    `json:"name"`
	Size     int       `json:"size"`
	Time     time.Time `json:"time"`
}

func encodeLog(codename string, m Message) ([]byte, error) {
	t := m.Time
	if t.IsZero() {
		t = time.Now()
	}
	return json.Marshal(logEvent{Codename: codename, Level: m.Level.String(), Text: m.Text, Time: t.UTC()})
}

func encodeFile(codename string, f File) ([]byte, error) {
	return json.Marshal(fileEvent{Codename: codename, Name: f.Name, Size: len(f.Data), Time: time.Now().UTC()})
}
