package sword

import (
	"testing"
)

func TestRunnerContinuationNeedsActivePlan(t *testing.T) {
	detector := NewDetector(nil)

	r := detector.Detect("let's continue with my plan", true, false)
	if !r.ShouldRedirect || r.Target != TargetRunner {
		t.Errorf("Expected runner redirect with active plan, got %+v", r)
	}

	r = detector.Detect("let's continue with my plan", false, false)
	if r.ShouldRedirect && r.Target == TargetRunner {
		t.Error("Expected no runner redirect without an active plan")
	}
}

func TestRunnerNextStep(t *testing.T) {
	detector := NewDetector(nil)

	r := detector.Detect("what's my next step?", true, false)
	if !r.ShouldRedirect || r.Target != TargetRunner {
		t.Errorf("Expected runner redirect for next-step ask, got %+v", r)
	}
}

func TestDesignerContinuation(t *testing.T) {
	detector := NewDetector(nil)

	r := detector.Detect("can we adjust the plan to include weekends?", false, true)
	if !r.ShouldRedirect || r.Target != TargetDesigner {
		t.Errorf("Expected designer redirect with draft plan, got %+v", r)
	}
}

func TestConcreteGoalBypassesExplore(t *testing.T) {
	detector := NewDetector(nil)

	cases := []string{
		"I want to learn Spanish to talk with my in-laws",
		"I need to pass the AWS certification exam",
		"help me prepare for my interview in 3 weeks",
	}
	for _, message := range cases {
		r := detector.Detect(message, false, false)
		if !r.ShouldRedirect {
			t.Errorf("Expected redirect for %q", message)
			continue
		}
		if r.Target != TargetDesigner {
			t.Errorf("Expected designer target for %q, got %s", message, r.Target)
		}
		if !r.BypassExplore {
			t.Errorf("Expected explore bypass for concrete goal %q", message)
		}
	}
}

func TestOpenGoalKeepsExplore(t *testing.T) {
	detector := NewDetector(nil)

	r := detector.Detect("I want to learn guitar", false, false)
	if !r.ShouldRedirect || r.Target != TargetDesigner {
		t.Fatalf("Expected designer redirect, got %+v", r)
	}
	if r.BypassExplore {
		t.Error("Expected exploration for an open-ended goal")
	}

	r = detector.Detect("teach me about photosynthesis", false, false)
	if !r.ShouldRedirect {
		t.Error("Expected redirect for teach-me intent")
	}
}

func TestNoRedirectForPlainChat(t *testing.T) {
	detector := NewDetector(nil)

	for _, message := range []string{
		"what's the weather today?",
		"tell me a joke",
		"how does a transistor work?",
	} {
		if r := detector.Detect(message, true, true); r.ShouldRedirect {
			t.Errorf("Expected no redirect for %q, got %+v", message, r)
		}
	}
}

func TestRunnerBeatsGoalStatement(t *testing.T) {
	detector := NewDetector(nil)

	// a continuation that also mentions learning resolves to runner
	r := detector.Detect("continue my plan, I still want to learn Spanish", true, false)
	if r.Target != TargetRunner {
		t.Errorf("Expected runner priority over goal statement, got %s", r.Target)
	}
}

func TestDetectDeterministic(t *testing.T) {
	detector := NewDetector(nil)
	message := "I want to learn Spanish to talk with my in-laws"

	first := detector.Detect(message, false, false)
	for i := 0; i < 5; i++ {
		if detector.Detect(message, false, false) != first {
			t.Fatal("Detection is not deterministic")
		}
	}
}
