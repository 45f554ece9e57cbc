package course

import "testing"

func TestCourseValidate(t *testing.T) {
	cases := []struct {
		name string
		c    Course
		ok   bool
	}{
		{"free", Course{IsFree: true}, true},
		{"paid", Course{Price: 2000}, true},
		{"free with price", Course{IsFree: true, Price: 10}, false},
		{"paid without price", Course{}, false},
		{"negative", Course{Price: -1}, false},
	}
	for _, c := range cases {
		if err := c.c.Validate(); (err == nil) != c.ok {
			t.Errorf("%s: Validate() = %v", c.name, err)
		}
	}
}

func TestNormalizeOrdersByPosition(t *testing.T) {
	d := CourseDetail{Questions: []Question{
		{ID: "b", Position: 1, Options: []string{"x", "y"}},
		{ID: "a", Position: 0, Options: []string{"x", "y"}},
	}}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if d.Questions[0].ID != "a" || d.TotalQuestions != 2 {
		t.Fatalf("unexpected order/total: %+v", d)
	}
}

func TestNormalizeRejectsGapsAndShortOptions(t *testing.T) {
	gap := CourseDetail{Questions: []Question{
		{ID: "a", Position: 0, Options: []string{"x", "y"}},
		{ID: "b", Position: 2, Options: []string{"x", "y"}},
	}}
	if err := gap.Normalize(); err == nil {
		t.Fatal("expected gap error")
	}
	short := CourseDetail{Questions: []Question{{ID: "a", Position: 0, Options: []string{"x"}}}}
	if err := short.Normalize(); err == nil {
		t.Fatal("expected option count error")
	}
}

func TestScore(t *testing.T) {
	if got := Score(4, 5); got != 80 {
		t.Fatalf("Score(4,5) = %v", got)
	}
	if got := Score(0, 0); got != 0 {
		t.Fatalf("Score(0,0) = %v", got)
	}
	r := AttemptResult{Score: 100.0 / 3, CorrectAnswers: 1, TotalQuestions: 3}
	if !r.Consistent() {
		t.Fatal("expected consistent result")
	}
}

func TestAnswersCloneIsIndependent(t *testing.T) {
	a := Answers{"q1": 1}
	b := a.Clone()
	b["q1"] = 2
	if a["q1"] != 1 {
		t.Fatal("clone aliased the original map")
	}
}
