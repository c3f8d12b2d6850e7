package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"medcoder/internal/bootstrap"
	"medcoder/pkg/database"
	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/orchestrator"
	"medcoder/pkg/types"
)

var (
	caseFile      string
	notesFile     string
	outputFile    string
	dbPath        string
	runTimeoutSec int
	maxConcurrent int
	maxRetries    int
	errorPolicy   string
)

// caseInput is the on-disk shape of a submitted case. Notes may come
// inline or from --notes-file; the file wins for the primary note.
type caseInput struct {
	CaseID         string             `json:"case_id,omitempty"`
	PatientID      string             `json:"patient_id"`
	ProviderID     string             `json:"provider_id"`
	DateOfService  string             `json:"date_of_service"`
	PlaceOfService string             `json:"place_of_service,omitempty"`
	ClaimKind      string             `json:"claim_kind,omitempty"`
	Demographics   types.Demographics `json:"demographics"`
	Notes          types.CaseNotes    `json:"notes"`
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one case through the coding pipeline",
	Long: `Reads a case file (and optionally a separate operative note), runs the
full pipeline against the configured model backends and reference data,
and writes the final workflow state as JSON.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&caseFile, "case-file", "", "case JSON file (required)")
	processCmd.Flags().StringVar(&notesFile, "notes-file", "", "plain-text operative note; overrides the case file's primary note")
	processCmd.Flags().StringVar(&outputFile, "output", "", "write final state JSON here (default stdout)")
	processCmd.Flags().StringVar(&dbPath, "db-path", "", "also persist the case and its event log to this sqlite database")
	processCmd.Flags().IntVar(&runTimeoutSec, "timeout", 600, "overall run timeout in seconds")
	processCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 2, "concurrent stage ceiling")
	processCmd.Flags().IntVar(&maxRetries, "max-retries", 2, "retries per stage on retryable failures")
	processCmd.Flags().StringVar(&errorPolicy, "error-policy", "continue", "continue or fail-fast")
	processCmd.MarkFlagRequired("case-file")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log, err := logger.CreateLogger(logFile, logLevel, logFormat, true)
	if err != nil {
		return err
	}
	defer log.Close()

	initial, err := loadCase(caseFile, notesFile)
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher()
	dispatcher.Register(events.NewLoggingListener(log))

	var store database.Store
	if dbPath != "" {
		sqlStore, err := database.NewSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore
		dispatcher.Register(database.NewEventRecorder(store, log))
	}

	services, err := bootstrap.BuildServices(log, dispatcher)
	if err != nil {
		return err
	}

	o := orchestrator.New(log, dispatcher)
	cfg := orchestrator.NewConfig().
		SetMaxConcurrentJobs(maxConcurrent).
		SetMaxRetries(maxRetries).
		SetErrorPolicy(orchestrator.ErrorPolicy(errorPolicy))
	if err := o.Configure(cfg); err != nil {
		return err
	}
	if err := orchestrator.RegisterCodingPipeline(o, bootstrap.AgentConfigFromEnv()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(runTimeoutSec)*time.Second)
	defer cancel()

	if store != nil {
		if err := store.SaveCase(ctx, database.CaseRecord{
			CaseID:      initial.CaseMeta.CaseID,
			Status:      types.CaseProcessing,
			SubmittedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	final, runErr := o.Run(ctx, initial, services)

	if store != nil && final != nil {
		if err := store.SaveFinalState(context.Background(), final.CaseMeta.CaseID, final); err != nil {
			log.WithError(err).Error("persisting final state failed")
		}
	}
	if err := writeState(final, outputFile); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("case %s did not complete: %w", initial.CaseMeta.CaseID, runErr)
	}
	log.Infof("case %s completed", final.CaseMeta.CaseID)
	return nil
}

// loadCase builds the initial workflow state from the case file and the
// optional note file.
func loadCase(casePath, notesPath string) (*types.WorkflowState, error) {
	raw, err := os.ReadFile(casePath)
	if err != nil {
		return nil, fmt.Errorf("read case file: %w", err)
	}
	var in caseInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse case file %s: %w", casePath, err)
	}

	if notesPath != "" {
		note, err := os.ReadFile(notesPath)
		if err != nil {
			return nil, fmt.Errorf("read notes file: %w", err)
		}
		in.Notes.Primary = string(note)
	}
	if in.Notes.Primary == "" {
		return nil, fmt.Errorf("case %s has no primary note", in.CaseID)
	}

	if in.CaseID == "" {
		in.CaseID = uuid.NewString()
	}
	dos := time.Now().UTC()
	if in.DateOfService != "" {
		parsed, err := time.Parse("2006-01-02", in.DateOfService)
		if err != nil {
			return nil, fmt.Errorf("parse date_of_service %q: %w", in.DateOfService, err)
		}
		dos = parsed
	}
	kind := types.ClaimKind(in.ClaimKind)
	if in.ClaimKind == "" {
		kind = types.ClaimPrimary
	}

	meta := types.CaseMetadata{
		CaseID:         in.CaseID,
		PatientID:      in.PatientID,
		ProviderID:     in.ProviderID,
		DateOfService:  dos,
		PlaceOfService: in.PlaceOfService,
		ClaimKind:      kind,
	}
	return types.NewWorkflowState(meta, in.Demographics, in.Notes), nil
}

func writeState(state *types.WorkflowState, path string) error {
	if state == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
