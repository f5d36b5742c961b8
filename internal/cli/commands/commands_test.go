package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"datalineage/internal/common"
)

type cliResult struct {
	Out string
	Err error
}

// runCLI executes the root command in-process with fresh flag values.
func runCLI(stdin string, args ...string) cliResult {
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return cliResult{Out: out.String(), Err: err}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// setupHome isolates the CLI in a fresh home directory.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("DATALINEAGE_HOME", home)
	t.Setenv("DATALINEAGE_LOG_LEVEL", "off")
	return home
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode[T any](g *WithT, r cliResult) T {
	g.Expect(r.Err).NotTo(HaveOccurred(), r.Out)
	var v T
	g.Expect(json.Unmarshal([]byte(r.Out), &v)).To(Succeed(), r.Out)
	return v
}

type versionJSON struct {
	VersionID       string   `json:"version_id"`
	ParentVersionID string   `json:"parent_version_id"`
	RowCount        int64    `json:"row_count"`
	Columns         []string `json:"columns"`
	IsPinned        bool     `json:"is_pinned"`
}

type uploadJSON struct {
	Version versionJSON `json:"version"`
	Created bool        `json:"created"`
}

type commitJSON struct {
	Version  versionJSON `json:"version"`
	Replayed bool        `json:"replayed"`
	Lineage  struct {
		TransformationType string  `json:"transformation_type"`
		RowsAffected       int64   `json:"rows_affected"`
		DataLossPercentage float64 `json:"data_loss_percentage"`
	} `json:"lineage"`
}

type statsJSON struct {
	Catalog struct {
		Datasets     int64 `json:"datasets"`
		Versions     int64 `json:"versions"`
		Pinned       int64 `json:"pinned"`
		LineageEdges int64 `json:"lineage_edges"`
	} `json:"catalog"`
}

const sampleCSV = "id,age,city\n1,30,Oslo\n2,,\n3,41,Rome\n4,52,Oslo\n"

const cleanPipeline = `steps:
  - type: drop_missing
    params:
      threshold: 50
  - type: normalize
    params:
      columns: [age]
`

func TestInit(t *testing.T) {
	g := NewWithT(t)
	home := setupHome(t)

	r := runCLI("", "init")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Initialized DataLineage home"))
	g.Expect(filepath.Join(home, "settings.yaml")).To(BeAnExistingFile())
	g.Expect(filepath.Join(home, "pipeline.example.yaml")).To(BeAnExistingFile())

	r = runCLI("", "init")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Reinitialized"))
}

func TestUploadCommitLineage(t *testing.T) {
	home := setupHome(t)
	data := writeFile(t, home, "people.csv", sampleCSV)
	pipeline := writeFile(t, home, "clean.yaml", cleanPipeline)

	var root, child versionJSON

	t.Run("upload creates a root version", func(t *testing.T) {
		g := NewWithT(t)
		up := decode[uploadJSON](g, runCLI("", "upload", "people", data, "--json", "--author", "alice"))
		g.Expect(up.Created).To(BeTrue())
		g.Expect(up.Version.RowCount).To(BeEquivalentTo(4))
		g.Expect(up.Version.Columns).To(Equal([]string{"id", "age", "city"}))
		root = up.Version
	})

	t.Run("identical upload is deduplicated", func(t *testing.T) {
		g := NewWithT(t)
		r := runCLI(sampleCSV, "upload", "people", "-")
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring("existing version " + root.VersionID))
	})

	t.Run("commit derives a child version", func(t *testing.T) {
		g := NewWithT(t)
		res := decode[commitJSON](g, runCLI("", "commit", root.VersionID[:8], "-f", pipeline, "--json"))
		g.Expect(res.Replayed).To(BeFalse())
		g.Expect(res.Version.ParentVersionID).To(Equal(root.VersionID))
		g.Expect(res.Version.RowCount).To(BeEquivalentTo(3))
		g.Expect(res.Lineage.TransformationType).To(Equal("drop_missing"))
		g.Expect(res.Lineage.RowsAffected).To(BeNumerically(">=", 1))
		g.Expect(res.Lineage.DataLossPercentage).To(BeNumerically("~", 25.0, 1e-9))
		child = res.Version
	})

	t.Run("lineage shows the chain", func(t *testing.T) {
		g := NewWithT(t)
		r := runCLI("", "lineage", child.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring(root.VersionID + " (root)"))
		g.Expect(r.Out).To(ContainSubstring("drop_missing > normalize"))

		r = runCLI("", "lineage", root.VersionID, "--children")
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring(child.VersionID))

		r = runCLI("", "lineage", root.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring("Root version"))
	})

	t.Run("compare reports the common ancestor", func(t *testing.T) {
		g := NewWithT(t)
		r := runCLI("", "compare", root.VersionID, child.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring("Common ancestor: " + root.VersionID))
		g.Expect(r.Out).To(ContainSubstring("Rows:    -1"))
	})

	t.Run("export writes the derived content", func(t *testing.T) {
		g := NewWithT(t)
		r := runCLI("", "export", child.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(r.Out), "\n")
		g.Expect(lines).To(HaveLen(4))
		g.Expect(lines[0]).To(Equal("id,age,city"))

		out := filepath.Join(home, "out.csv")
		r = runCLI("", "export", child.VersionID, "-o", out)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(out).To(BeAnExistingFile())
	})

	t.Run("parent cannot be removed before its child", func(t *testing.T) {
		g := NewWithT(t)
		r := runCLI("", "rm", root.VersionID, "-y")
		g.Expect(r.Err).To(MatchError(common.ErrInUse))
		g.Expect(ExitCode(r.Err)).To(Equal(4))

		r = runCLI("n\n", "rm", child.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring("Remove cancelled"))

		r = runCLI("y\n", "rm", child.VersionID)
		g.Expect(r.Err).NotTo(HaveOccurred())
		g.Expect(r.Out).To(ContainSubstring("Removed version " + child.VersionID))

		r = runCLI("", "rm", root.VersionID, "-y")
		g.Expect(r.Err).NotTo(HaveOccurred())

		r = runCLI("", "show", root.VersionID)
		g.Expect(ExitCode(r.Err)).To(Equal(3))
	})
}

func TestCommitRequestToken(t *testing.T) {
	g := NewWithT(t)
	home := setupHome(t)
	data := writeFile(t, home, "people.csv", sampleCSV)
	pipeline := writeFile(t, home, "clean.yaml", cleanPipeline)

	up := decode[uploadJSON](g, runCLI("", "upload", "people", data, "--json"))
	first := decode[commitJSON](g, runCLI("", "commit", up.Version.VersionID, "-f", pipeline, "--request-token", "nightly-1", "--json"))

	r := runCLI("", "commit", up.Version.VersionID, "-f", pipeline, "--request-token", "nightly-1")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Already committed as version " + first.Version.VersionID))

	r = runCLI("", "commit", up.Version.VersionID, "-f", pipeline, "--require-leaf")
	g.Expect(r.Err).To(MatchError(common.ErrConflict))

	// Without a token each commit fans out into a new child.
	second := decode[commitJSON](g, runCLI("", "commit", up.Version.VersionID, "-f", pipeline, "--json"))
	g.Expect(second.Version.VersionID).NotTo(Equal(first.Version.VersionID))
}

func TestValidateAndPreview(t *testing.T) {
	g := NewWithT(t)
	home := setupHome(t)
	data := writeFile(t, home, "people.csv", sampleCSV)
	up := decode[uploadJSON](g, runCLI("", "upload", "people", data, "--json"))
	id := up.Version.VersionID

	good := writeFile(t, home, "good.yaml", cleanPipeline)
	r := runCLI("", "validate", id, "-f", good)
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Pipeline is valid (2 steps)"))

	bad := writeFile(t, home, "bad.yaml", `- type: scale
  params:
    columns: [salary]
- type: normalize
  params:
    columns: [city]
`)
	r = runCLI("", "validate", id, "-f", bad)
	g.Expect(r.Err).To(MatchError(common.ErrValidation))
	g.Expect(ExitCode(r.Err)).To(Equal(2))
	g.Expect(r.Out).To(ContainSubstring("2 of 2 steps"))
	g.Expect(r.Out).To(ContainSubstring(`column "salary" not found`))

	r = runCLI("", "preview", id, "-f", good)
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Rows: 4 -> 3"))
	g.Expect(r.Out).To(ContainSubstring("id | age | city"))

	r = runCLI("", "preview", id, "-f", good, "--step", "5")
	g.Expect(r.Err).To(HaveOccurred())

	mismatched := writeFile(t, home, "mismatched.yaml", `- type: encode
  params:
    columns: [age]
`)
	r = runCLI("", "preview", id, "-f", mismatched)
	g.Expect(r.Err).To(MatchError(common.ErrValidation))
}

func TestPinListStatsGC(t *testing.T) {
	g := NewWithT(t)
	home := setupHome(t)
	data := writeFile(t, home, "people.csv", sampleCSV)
	pipeline := writeFile(t, home, "clean.yaml", cleanPipeline)

	up := decode[uploadJSON](g, runCLI("", "upload", "people", data, "--json"))
	var children []string
	for i := 0; i < 3; i++ {
		c := decode[commitJSON](g, runCLI("", "commit", up.Version.VersionID, "-f", pipeline, "--json"))
		children = append(children, c.Version.VersionID)
	}

	pinned := decode[versionJSON](g, runCLI("", "pin", children[0], "--json"))
	g.Expect(pinned.IsPinned).To(BeTrue())

	versions := decode[[]versionJSON](g, runCLI("", "ls", "people", "--json"))
	g.Expect(versions).To(HaveLen(4))
	g.Expect(versions[0].VersionID).To(Equal(children[2]), "newest first")

	r := runCLI("", "ls")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("people"))
	g.Expect(r.Out).To(ContainSubstring("4 version(s)"))

	r = runCLI("", "gc", "people", "--keep", "1", "--dry-run")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Would remove 1 version(s)"))
	g.Expect(r.Out).To(ContainSubstring(children[1]))

	r = runCLI("", "gc", "people", "--keep", "1")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring("Removed 1 version(s)"))

	stats := decode[statsJSON](g, runCLI("", "stats", "--json"))
	g.Expect(stats.Catalog.Datasets).To(BeEquivalentTo(1))
	g.Expect(stats.Catalog.Versions).To(BeEquivalentTo(3))
	g.Expect(stats.Catalog.Pinned).To(BeEquivalentTo(1))

	r = runCLI("", "unpin", children[0])
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(ContainSubstring(fmt.Sprintf("Unpinned version %s", children[0])))
}

func TestInvalidLogLevel(t *testing.T) {
	g := NewWithT(t)
	setupHome(t)

	r := runCLI("", "stats", "--log-level", "loud")
	g.Expect(r.Err).To(MatchError(ContainSubstring("unknown log level")))
}

func TestExitCode(t *testing.T) {
	g := NewWithT(t)
	g.Expect(ExitCode(nil)).To(Equal(0))
	g.Expect(ExitCode(&common.InvalidInputError{Reason: "x"})).To(Equal(2))
	g.Expect(ExitCode(fmt.Errorf("lookup: %w", common.ErrNotFound))).To(Equal(3))
	g.Expect(ExitCode(&common.VersionInUseError{VersionID: "v", Pinned: true})).To(Equal(4))
	g.Expect(ExitCode(&common.BrokenChainError{VersionID: "v"})).To(Equal(5))
	g.Expect(ExitCode(common.Transient("put", fmt.Errorf("reset")))).To(Equal(75))
	g.Expect(ExitCode(fmt.Errorf("boom"))).To(Equal(1))
}

func TestVersionString(t *testing.T) {
	g := NewWithT(t)
	setupHome(t)
	prevVersion, prevCommit, prevDate := buildVersion, commit, date
	t.Cleanup(func() { SetVersion(prevVersion, prevCommit, prevDate) })

	// noon UTC keeps the calendar date stable across local time zones
	SetVersion("1.2.0", "abc123", "1735732800")
	g.Expect(getVersionString()).To(Equal("1.2.0 (2025-01-01)"))

	SetVersion("1.3.0-dev", "abc123", "1735732800")
	g.Expect(getVersionString()).To(Equal("1.3.0-dev (2025-01-01, commit: abc123)"))

	g.Expect(formatBuildDate("unknown")).To(Equal("unknown"))

	r := runCLI("", "--version")
	g.Expect(r.Err).NotTo(HaveOccurred())
	g.Expect(r.Out).To(Equal("datalineage version 1.3.0-dev (2025-01-01, commit: abc123)\n"))
}
