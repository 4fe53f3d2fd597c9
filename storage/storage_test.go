package storage

import (
	"testing"
)

func TestDecodeStudentEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"c1","RowKey":"s1","Name":"Asha Rao","Email":"asha@example.com","Grade":"12","Target":"US","CreatedAt":"2025-08-01T10:00:00Z"}`)
	st, err := decodeStudentEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ID != "s1" || st.CounsellorID != "c1" || st.Name != "Asha Rao" {
		t.Fatalf("unexpected student: %+v", st)
	}
	if st.CreatedAt.IsZero() {
		t.Fatalf("created at not parsed")
	}
}

func TestDecodeSubtaskEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"s1","RowKey":"sub1","TaskId":"t1","Name":"Draft essay","Status":"yet_to_start","Remark":"from transcript","Eta":"2025-09-30","Owner":"Asha Rao"}`)
	sub, err := decodeSubtaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(sub.ID) != "sub1" || sub.StudentID != "s1" || sub.TaskID != "t1" {
		t.Fatalf("unexpected subtask: %+v", sub)
	}
	if sub.Status != "yet_to_start" || sub.ETA != "2025-09-30" {
		t.Fatalf("unexpected subtask fields: %+v", sub)
	}
}

func TestDecodeNoteEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"s1","RowKey":"n1","Title":"Kickoff call","Body":"raw text","Type":"transcript","Processed":false,"CreatedAt":"2025-08-01T10:00:00Z"}`)
	n, err := decodeNoteEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Type != "transcript" || n.Processed {
		t.Fatalf("unexpected note: %+v", n)
	}
}

func TestDecodeCalendarEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"s1","RowKey":"sub1","Date":"2025-09-30","Label":"Draft essay","Owner":"Asha Rao"}`)
	e, err := decodeCalendarEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.StudentID != "s1" || string(e.SubtaskID) != "sub1" || e.Date != "2025-09-30" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}
