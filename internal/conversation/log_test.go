package conversation

import "testing"

func TestLogAppendPreservesInsertionOrder(t *testing.T) {
	l := NewLog()
	l.Append(NewTurn(SenderUser, "first"))
	l.Append(NewTurn(SenderBot, "second"))
	l.Append(NewTurn(SenderUser, "third"))

	turns := l.Turns()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	if turns[0].Text != "first" || turns[1].Text != "second" || turns[2].Text != "third" {
		t.Fatalf("turns out of insertion order: %+v", turns)
	}
	if turns[0].CorrelationID == "" || turns[0].CorrelationID == turns[2].CorrelationID {
		t.Fatalf("turns should carry distinct correlation ids")
	}
}

func TestLastUnansweredUserTurn(t *testing.T) {
	l := NewLog()
	if _, ok := l.LastUnansweredUserTurn(); ok {
		t.Fatalf("empty log should have no unanswered turn")
	}

	l.Append(NewTurn(SenderUser, "hello"))
	turn, ok := l.LastUnansweredUserTurn()
	if !ok || turn.Text != "hello" {
		t.Fatalf("LastUnansweredUserTurn() = (%+v, %v), want hello turn", turn, ok)
	}

	l.Append(NewTurn(SenderBot, "hi there"))
	if _, ok := l.LastUnansweredUserTurn(); ok {
		t.Fatalf("answered turn should not be reported")
	}

	l.Append(NewTurn(SenderUser, "next question"))
	turn, ok = l.LastUnansweredUserTurn()
	if !ok || turn.Text != "next question" {
		t.Fatalf("LastUnansweredUserTurn() = (%+v, %v), want latest user turn", turn, ok)
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	l := NewLog()
	l.Append(NewTurn(SenderUser, "original"))

	snapshot := l.Turns()
	snapshot[0].Text = "mutated"

	if l.Turns()[0].Text != "original" {
		t.Fatalf("snapshot mutation leaked into the log")
	}
}
