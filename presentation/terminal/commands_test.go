package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"screenfill/domain/entities"
	"screenfill/infrastructure/simulator"

	"github.com/sirupsen/logrus"
)

const siteYAML = `
general_paths: {images: general/images, configs: general/configs}
pages:
  patient: {images: patient/images, configs: patient/configs}
task_route:
  add_new_patient: [patients_tab]
tasks:
  add_new_patient: {pages: [patient]}
footer_landmark: footer
`

const patientSteps = `{"last_name": [["move", {"smooth": false}], ["click", {"clicks": 2}], ["type"]]}`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, buf.Bytes())
}

func crop(page *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), page, r.Min, draw.Src)
	return out
}

// simSite lays out a site description around a synthetic page image and
// points the environment at it with the sim backend.
func simSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	page := simulator.Texture(400, 900, 8, 3)

	writePNG(t, filepath.Join(dir, "page.png"), page)
	writeFile(t, filepath.Join(dir, "config.yaml"), []byte(siteYAML))
	writePNG(t, filepath.Join(dir, "general/images/footer.png"), crop(page, image.Rect(40, 856, 72, 872)))
	writePNG(t, filepath.Join(dir, "general/images/patients_tab.png"), crop(page, image.Rect(200, 40, 232, 56)))
	writePNG(t, filepath.Join(dir, "patient/images/last_name.png"), crop(page, image.Rect(96, 200, 128, 216)))
	writeFile(t, filepath.Join(dir, "patient/configs/steps.json"), []byte(patientSteps))
	writeFile(t, filepath.Join(dir, "record.yaml"), []byte("patient:\n  last_name: Doe\n"))

	t.Setenv("SCREENFILL_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("SCREENFILL_BACKEND", "sim")
	t.Setenv("SCREENFILL_TARGET_URL", filepath.Join(dir, "page.png"))
	t.Setenv("SCREENFILL_HISTORY_DIR", filepath.Join(dir, "history"))
	t.Setenv("SCREENFILL_SETTLE", "0")
	t.Setenv("SCREENFILL_STATUS_ADDR", "")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cmd := NewRootCommand(logger)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(testContext(t))
	return out.String(), err
}

func TestTasksCommand(t *testing.T) {
	simSite(t)
	out, err := execute(t, "tasks")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if strings.TrimSpace(out) != "add_new_patient: patient" {
		t.Errorf("output = %q", out)
	}
}

func TestLocateCommand(t *testing.T) {
	dir := simSite(t)
	cropPath := filepath.Join(dir, "crop.png")

	out, err := execute(t, "locate", "patient", "last_name", "--crop", cropPath)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if !strings.Contains(out, "last_name: matched at (112,208)") {
		t.Errorf("output = %q", out)
	}
	f, err := os.Open(cropPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Errorf("crop size %v, want 32x16", img.Bounds())
	}

	out, err = execute(t, "locate", "general", "patients_tab")
	if err != nil || !strings.Contains(out, "matched at (216,48)") {
		t.Errorf("general landmark: %q %v", out, err)
	}
}

func TestRunPageCommand(t *testing.T) {
	dir := simSite(t)
	out, err := execute(t, "run-page", "patient", "--record", filepath.Join(dir, "record.yaml"))
	if err != nil {
		t.Fatalf("run-page: %v\n%s", err, out)
	}
	var res entities.PageResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.OK || len(res.Fields) != 1 || res.Fields[0].Field != "last_name" || res.Fields[0].Steps != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunTaskCommandStoresRun(t *testing.T) {
	dir := simSite(t)
	out, err := execute(t, "run-task", "add_new_patient", "-r", filepath.Join(dir, "record.yaml"))
	if err != nil {
		t.Fatalf("run-task: %v\n%s", err, out)
	}
	var res entities.TaskResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != entities.TaskStatusCompleted || res.ID == "" {
		t.Errorf("result = %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "history", "runs.json"))
	if err != nil {
		t.Fatalf("history not written: %v", err)
	}
	if !strings.Contains(string(data), res.ID) {
		t.Errorf("history does not mention run %s", res.ID)
	}
}

func TestRunTaskUnknownTask(t *testing.T) {
	dir := simSite(t)
	if _, err := execute(t, "run-task", "discharge", "-r", filepath.Join(dir, "record.yaml")); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestRunTaskRequiresRecord(t *testing.T) {
	simSite(t)
	if _, err := execute(t, "run-task", "add_new_patient"); err == nil {
		t.Error("expected error without --record")
	}
}

func TestBackendFlagValidated(t *testing.T) {
	simSite(t)
	if _, err := execute(t, "tasks", "--backend", "lynx"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestShell(t *testing.T) {
	dir := simSite(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cmd := NewRootCommand(logger)
	in := strings.NewReader("tasks\nadd_new_patient\nadd_new_patient " + filepath.Join(dir, "record.yaml") + "\nquit\n")
	var out bytes.Buffer
	cmd.SetIn(in)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"shell"})
	if err := cmd.ExecuteContext(testContext(t)); err != nil {
		t.Fatalf("shell: %v", err)
	}
	for _, want := range []string{"  add_new_patient", "usage: <task> <record file>", "Task completed", "Bye"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("shell output missing %q:\n%s", want, out.String())
		}
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): a context
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
