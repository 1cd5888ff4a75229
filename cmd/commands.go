package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// stateCommand builds a command that runs against the opened state.
func stateCommand(use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, s *session, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Args:        args,
		Annotations: map[string]string{stateAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			return run(cmd, s, args)
		},
	}
}

// newUpdateCmd fetches every due feed, or only the named one.
func newUpdateCmd() *cobra.Command {
	cmd := stateCommand("update [URL]", "Fetch data from feeds and store it", cobra.MaximumNArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			feedURL := ""
			if len(args) == 1 {
				feedURL = args[0]
			}
			s.app.Logger().Debug("Update command starting", zap.String("run_id", s.app.RunID()), zap.String("feed", feedURL))
			return s.agg.Update(cmd.Context(), feedURL)
		})
	cmd.Long = `Fetches every feed whose period has elapsed and merges new articles into
the state. Given a URL, only that feed is fetched, ignoring its period and
cached validators.`
	return cmd
}

func newWriteCmd() *cobra.Command {
	return stateCommand("write", "Write out the HTML page", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, _ []string) error {
			return s.agg.Write(cmd.Context())
		})
}

func newListCmd() *cobra.Command {
	return stateCommand("list", "List feeds known at time of last update", cobra.NoArgs,
		func(_ *cobra.Command, s *session, _ []string) error {
			s.agg.List()
			return nil
		})
}

func newShowTemplateCmd() *cobra.Command {
	return stateCommand("show-template", "Show the template currently in use for the page", cobra.NoArgs,
		func(_ *cobra.Command, s *session, _ []string) error {
			return s.agg.ShowTemplate()
		})
}

func newShowItemTemplateCmd() *cobra.Command {
	return stateCommand("show-itemtemplate", "Show the template currently in use for each article", cobra.NoArgs,
		func(_ *cobra.Command, s *session, _ []string) error {
			return s.agg.ShowItemTemplate()
		})
}

func newAddCmd() *cobra.Command {
	return stateCommand("add URL", "Try to find a feed associated with URL and add it to the config", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			return s.agg.AddFeed(cmd.Context(), args[0])
		})
}

func newRemoveCmd() *cobra.Command {
	return stateCommand("remove URL", "Remove feed with URL from the config", cobra.ExactArgs(1),
		func(_ *cobra.Command, s *session, args []string) error {
			return s.agg.RemoveFeed(args[0])
		})
}
