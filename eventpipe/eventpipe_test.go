package eventpipe

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Event
		wantErr bool
	}{
		{line: "sensor 1", want: Event{Type: EventSensor, Present: true}},
		{line: "sensor 0", want: Event{Type: EventSensor}},
		{line: "SENSOR true", want: Event{Type: EventSensor, Present: true}},
		{line: "tag e2801160600002", want: Event{Type: EventTag, TagID: "E2801160600002"}},
		{line: "rfid 00AA", want: Event{Type: EventTag, TagID: "00AA"}},
		{line: "trigger", want: Event{Type: EventTrigger}},
		{line: "sensor", wantErr: true},
		{line: "sensor maybe", wantErr: true},
		{line: "tag", wantErr: true},
		{line: "tag xyz", wantErr: true},
		{line: "tag ABC", wantErr: true},
		{line: "rotary 1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLine(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLine(%q) err = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestNewEmptyPath(t *testing.T) {
	ep, err := New(Config{}, nil)
	if ep != nil || err != nil {
		t.Errorf("New with empty path = %v, %v", ep, err)
	}
}
