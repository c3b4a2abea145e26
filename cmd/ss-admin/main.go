// ss-admin is the maintenance CLI for Redis-backed state and storage:
//
//	ss-admin purge-legacy-file-states
//	ss-admin set-type --task-id <uuid> --task-type podcast --no-generate-video --generate-podcast
//	ss-admin backfill-storage [--delete-legacy]
//
// Exit code 0 on success, 1 when the target is not found.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"slidespeaker/internal/repository"
	"slidespeaker/internal/state"
	"slidespeaker/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "ss-admin",
		Short:         "SlideSpeaker maintenance utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(purgeLegacyCmd(), setTypeCmd(), backfillCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func purgeLegacyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-legacy-file-states",
		Short: "Remove file-scoped states whose file has a task mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			manager, err := state.NewManager(ctx)
			if err != nil {
				return err
			}
			checked, removed, err := manager.PurgeLegacyFileStates(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("checked=%d removed=%d\n", checked, removed)
			return nil
		},
	}
}

func setTypeCmd() *cobra.Command {
	var taskID, taskType string
	var generateVideo, generatePodcast bool
	var noGenerateVideo, noGeneratePodcast bool

	cmd := &cobra.Command{
		Use:   "set-type",
		Short: "Set task_type and video/podcast flags for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			if taskType != "" {
				switch taskType {
				case state.TaskTypeVideo, state.TaskTypePodcast, state.TaskTypeBoth:
				default:
					return fmt.Errorf("invalid --task-type %q", taskType)
				}
			}
			ctx := context.Background()
			manager, err := state.NewManager(ctx)
			if err != nil {
				return err
			}
			st, err := manager.GetStateByTask(ctx, taskID)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintf(os.Stderr, "state not found for task %s\n", taskID)
				os.Exit(1)
			}
			if taskType != "" {
				st.TaskType = taskType
			}
			if cmd.Flags().Changed("generate-video") || cmd.Flags().Changed("no-generate-video") {
				st.GenerateVideo = generateVideo && !noGenerateVideo
			}
			if cmd.Flags().Changed("generate-podcast") || cmd.Flags().Changed("no-generate-podcast") {
				st.GeneratePodcast = generatePodcast && !noGeneratePodcast
			}
			st.TaskID = taskID
			if err := manager.Save(ctx, st); err != nil {
				return err
			}
			fmt.Printf("updated task %s: task_type=%s generate_video=%t generate_podcast=%t\n",
				taskID, st.TaskType, st.GenerateVideo, st.GeneratePodcast)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (uuid)")
	cmd.Flags().StringVar(&taskType, "task-type", "", "video, podcast or both")
	cmd.Flags().BoolVar(&generateVideo, "generate-video", true, "enable video generation")
	cmd.Flags().BoolVar(&noGenerateVideo, "no-generate-video", false, "disable video generation")
	cmd.Flags().BoolVar(&generatePodcast, "generate-podcast", false, "enable podcast generation")
	cmd.Flags().BoolVar(&noGeneratePodcast, "no-generate-podcast", false, "disable podcast generation")
	return cmd
}

func backfillCmd() *cobra.Command {
	var deleteLegacy bool

	cmd := &cobra.Command{
		Use:   "backfill-storage",
		Short: "Copy legacy flat storage keys to the canonical layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := repository.Open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := storage.NewProviderFromConfig(ctx)
			if err != nil {
				return err
			}

			migrated := 0
			tasks, err := db.ListTasks(ctx, 10000, 0, "", "")
			if err != nil {
				return err
			}
			for _, task := range tasks {
				pairs := map[string]string{}
				for _, legacy := range storage.LegacyUploadKeys(task.UploadID, task.FileExt) {
					pairs[legacy] = storage.UploadObjectKey(task.UploadID, task.FileExt)
				}
				for _, legacy := range storage.LegacyVideoKeys(task.UploadID) {
					pairs[legacy] = storage.OutputObjectKey(task.ID, storage.CategoryVideo, task.ID+".mp4")
				}
				for _, legacy := range storage.LegacyAudioKeys(task.UploadID) {
					pairs[legacy] = storage.OutputObjectKey(task.ID, storage.CategoryAudio, task.ID+".mp3")
				}
				for _, legacy := range storage.LegacyPodcastKeys(task.UploadID) {
					pairs[legacy] = storage.OutputObjectKey(task.ID, storage.CategoryPodcast, task.ID+"_podcast.mp3")
				}
				for legacy, canonical := range pairs {
					if legacy == canonical || strings.TrimSpace(legacy) == "" {
						continue
					}
					exists, err := store.Exists(ctx, legacy)
					if err != nil || !exists {
						continue
					}
					if canonicalExists, _ := store.Exists(ctx, canonical); !canonicalExists {
						data, err := store.GetBytes(ctx, legacy)
						if err != nil {
							slog.Warn("Failed to read legacy object", "key", legacy, "error", err)
							continue
						}
						if err := store.PutBytes(ctx, data, canonical, ""); err != nil {
							slog.Warn("Failed to write canonical object", "key", canonical, "error", err)
							continue
						}
						migrated++
					}
					if deleteLegacy {
						if err := store.Delete(ctx, legacy); err != nil {
							slog.Warn("Failed to delete legacy object", "key", legacy, "error", err)
						}
					}
				}
			}
			fmt.Printf("migrated=%d\n", migrated)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteLegacy, "delete-legacy", false, "delete legacy keys after copying")
	return cmd
}
