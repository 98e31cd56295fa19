package checklist

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
)

var (
	admin  = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	worker = models.Actor{ID: "user-1", Role: models.RoleWorker, WorkerID: "worker-1"}
	other  = models.Actor{ID: "user-2", Role: models.RoleWorker, WorkerID: "worker-2"}
)

func newFixture(t *testing.T) (*store.Memory, *Engine) {
	t.Helper()
	mem := store.NewMemory()
	mem.Templates["tmpl-1"] = store.TemplateDoc{
		ID:      "tmpl-1",
		Version: 3,
		Items: []models.TemplateItem{
			{ItemID: "item-a", Label: "Sweep entrance", Required: true},
			{ItemID: "item-b", Label: "Clean windows", Required: true, PhotoRequired: true},
			{ItemID: "item-c", Label: "Restock supplies"},
		},
	}
	mem.Sites["site-1"] = models.Site{
		ID:                 "site-1",
		ClientID:           "client-1",
		ActiveTemplateID:   "tmpl-1",
		RequiredPhotoCount: 2,
	}
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(context.Background(), models.Job{
			ID:       "job-1",
			SiteID:   "site-1",
			ClientID: "client-1",
			Status:   models.JobScheduled,
			Assignee: models.WorkerAssignee("worker-1"),
		})
	})
	sm := statemachine.New(mem, zerolog.Nop())
	return mem, NewEngine(mem, sm, zerolog.Nop())
}

func seedPhoto(mem *store.Memory, runID, itemID string) {
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateEvidence(context.Background(), models.Evidence{
			ID:             "photo-" + itemID + "-" + runID,
			JobID:          "job-1",
			ChecklistRunID: runID,
			ItemID:         itemID,
			StoragePath:    "/tmp/x.jpg",
		})
	})
}

func TestCreateOrGetRunPinsActiveTemplate(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)

	view, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if view.Run.TemplateID != "tmpl-1" || view.Run.TemplateVersion != 3 {
		t.Fatalf("run pinned %s v%d", view.Run.TemplateID, view.Run.TemplateVersion)
	}
	if view.Run.Status != models.RunInProgress {
		t.Fatalf("new run status = %s", view.Run.Status)
	}
	comp, ok := mem.Completions["job-1"]
	if !ok || !comp.IsDraft {
		t.Fatalf("draft completion shell missing, got %+v", comp)
	}

	again, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if again.Run.ID != view.Run.ID {
		t.Fatalf("second call created a new run %s != %s", again.Run.ID, view.Run.ID)
	}
}

func TestCreateOrGetRunGates(t *testing.T) {
	ctx := context.Background()
	_, eng := newFixture(t)

	if _, err := eng.CreateOrGetRun(ctx, other, "job-1"); faults.CodeOf(err) != faults.CodeUnauthorized {
		t.Fatalf("non-assignee: got %v", err)
	}

	mem2, eng2 := newFixture(t)
	mem2.Seed(func(tx store.Tx) {
		_ = tx.UpdateJobStatus(ctx, "job-1", models.JobCancelled)
	})
	if _, err := eng2.CreateOrGetRun(ctx, worker, "job-1"); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("cancelled job: got %v", err)
	}

	mem3, eng3 := newFixture(t)
	site := mem3.Sites["site-1"]
	site.ActiveTemplateID = ""
	mem3.Sites["site-1"] = site
	if _, err := eng3.CreateOrGetRun(ctx, worker, "job-1"); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("no active template: got %v", err)
	}
}

func TestSaveItemSyncsCompletion(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	view, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", models.ResultPass, "", "front door sticky"); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Overwrite the same answer; the upsert keeps one row per item.
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", models.ResultFail, "missed corners", ""); err != nil {
		t.Fatalf("resave: %v", err)
	}

	items := mem.RunItems[view.Run.ID]
	if len(items) != 1 {
		t.Fatalf("run items = %d, want 1", len(items))
	}
	if items["item-a"].Result != models.ResultFail {
		t.Fatalf("latest answer = %s", items["item-a"].Result)
	}

	comp := mem.Completions["job-1"]
	if !comp.IsDraft {
		t.Fatalf("completion left draft state early")
	}
	entry, ok := comp.ChecklistResults["item-a"].(map[string]any)
	if !ok {
		t.Fatalf("completion missing item-a: %+v", comp.ChecklistResults)
	}
	if entry["result"] != "FAIL" || entry["failReason"] != "missed corners" {
		t.Fatalf("completion entry = %+v", entry)
	}

	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-z", models.ResultPass, "", ""); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("unknown item: got %v", err)
	}
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", "MAYBE", "", ""); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("unknown result: got %v", err)
	}
	if err := eng.SaveItem(ctx, other, view.Run.ID, "item-a", models.ResultPass, "", ""); faults.CodeOf(err) != faults.CodeUnauthorized {
		t.Fatalf("non-assignee save: got %v", err)
	}
}

func TestSubmitReportsEveryProblemAtOnce(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	view, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	// Answer one required item, leave item-b unanswered and photoless.
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", models.ResultPass, "", ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	err = eng.SubmitRun(ctx, worker, view.Run.ID)
	if faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("submit: got %v, want validation failure", err)
	}
	msg := err.Error()
	for _, want := range []string{
		`Required item "Clean windows" has no result.`,
		"Minimum 2 photos required. You have 0.",
		`Item "Clean windows" requires at least one photo.`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("submit error %q missing %q", msg, want)
		}
	}

	// Nothing moved: the failed submit wrote no state.
	if got := mem.Jobs["job-1"].Status; got != models.JobScheduled {
		t.Fatalf("failed submit moved job to %s", got)
	}
	if got := mem.Runs[view.Run.ID].Status; got != models.RunInProgress {
		t.Fatalf("failed submit moved run to %s", got)
	}
	if len(mem.Audits) != 0 {
		t.Fatalf("failed submit wrote %d audit rows", len(mem.Audits))
	}
}

func TestSubmitDrivesJobToPendingApproval(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	view, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", models.ResultPass, "", ""); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-b", models.ResultFail, "streaks remain", ""); err != nil {
		t.Fatalf("save b: %v", err)
	}
	seedPhoto(mem, view.Run.ID, "item-b")
	seedPhoto(mem, view.Run.ID, "")

	if err := eng.SubmitRun(ctx, worker, view.Run.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got := mem.Jobs["job-1"].Status; got != models.JobPendingApproval {
		t.Fatalf("job status = %s", got)
	}
	run := mem.Runs[view.Run.ID]
	if run.Status != models.RunSubmitted || run.SubmittedAt == nil {
		t.Fatalf("run = %+v", run)
	}
	if mem.Completions["job-1"].IsDraft {
		t.Fatalf("completion still draft after submit")
	}
	if len(mem.Audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(mem.Audits))
	}
	if mem.Audits[0].Metadata["checklistRunId"] != view.Run.ID {
		t.Fatalf("audit metadata = %+v", mem.Audits[0].Metadata)
	}

	// A settled run cannot be submitted again.
	if err := eng.SubmitRun(ctx, worker, view.Run.ID); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("double submit: got %v", err)
	}
}

func TestReviewRunForJob(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	view, err := eng.CreateOrGetRun(ctx, worker, "job-1")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-a", models.ResultPass, "", ""); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := eng.SaveItem(ctx, worker, view.Run.ID, "item-b", models.ResultPass, "", ""); err != nil {
		t.Fatalf("save b: %v", err)
	}
	seedPhoto(mem, view.Run.ID, "item-b")
	seedPhoto(mem, view.Run.ID, "")
	if err := eng.SubmitRun(ctx, worker, view.Run.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err = mem.WithTx(ctx, func(tx store.Tx) error {
		return ReviewRunForJobTx(ctx, tx, "job-1", true, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	run := mem.Runs[view.Run.ID]
	if run.Status != models.RunApproved || run.ApprovedAt == nil {
		t.Fatalf("reviewed run = %+v", run)
	}

	// A job with no submitted run reviews as a no-op.
	err = mem.WithTx(ctx, func(tx store.Tx) error {
		return ReviewRunForJobTx(ctx, tx, "job-without-run", false, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("review without run: %v", err)
	}
}
