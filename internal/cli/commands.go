package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/colthorp/portal-cache-go/internal/cache"
	"github.com/colthorp/portal-cache-go/internal/core"
	"github.com/colthorp/portal-cache-go/internal/output"
	"github.com/spf13/cobra"
)

const loginHint = "session expired - run with a fresh PORTAL_SESSION to sign in again"

func init() {
	rootCmd.AddCommand(attendanceCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(timetableCmd)
	rootCmd.AddCommand(userInfoCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(dayOrderCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(signOutCmd)
	rootCmd.AddCommand(warmCmd)

	calendarCmd.Flags().String("months", "", "Comma-separated YYYY-MM months to refresh and merge into the cache")
	documentsCmd.Flags().String("subject", "", "Fetch the files of one subject")
	statsCmd.Flags().String("subject", "", "Subject for subject-documents stats")
	statsCmd.Flags().Bool("json", false, "Emit JSON instead of a table")
}

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show the attendance report",
	Args:  cobra.NoArgs,
	RunE:  handleAttendance,
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Show the academic calendar",
	Args:  cobra.NoArgs,
	RunE:  handleCalendar,
}

var timetableCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Show the timetable for PORTAL_BATCH",
	Args:  cobra.NoArgs,
	RunE:  handleTimetable,
}

var userInfoCmd = &cobra.Command{
	Use:   "userinfo",
	Short: "Show the student profile",
	Args:  cobra.NoArgs,
	RunE:  handleUserInfo,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Show the document tree, or one subject's files",
	Args:  cobra.NoArgs,
	RunE:  handleDocuments,
}

var dayOrderCmd = &cobra.Command{
	Use:   "dayorder",
	Short: "Show today's day order",
	Args:  cobra.NoArgs,
	RunE:  handleDayOrder,
}

var statsCmd = &cobra.Command{
	Use:   "stats [resource]",
	Short: "Show cache statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear [resource]",
	Short: "Clear one resource's cache, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleClear,
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "End the portal session and clear every cache",
	Args:  cobra.NoArgs,
	RunE:  handleSignOut,
}

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Fetch every resource so later reads work offline",
	Args:  cobra.NoArgs,
	RunE:  handleWarm,
}

func handleAttendance(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		return emit(cmd.OutOrStdout(), cache.ResourceAttendance, m.Attendance(cmd.Context(), fetchOptions()))
	})
}

func handleCalendar(cmd *cobra.Command, args []string) error {
	monthsFlag, _ := cmd.Flags().GetString("months")
	months := core.SplitList(monthsFlag)
	for _, month := range months {
		if _, err := core.ParseMonthKey(month); err != nil {
			return err
		}
	}

	return withManager(func(m *cache.Manager) error {
		if len(months) > 0 {
			core.ProgressPrint(fmt.Sprintf("Refreshing calendar months %v…", months), quiet)
			return emit(cmd.OutOrStdout(), cache.ResourceCalendar, m.CalendarMonths(cmd.Context(), months, fetchOptions()))
		}
		return emit(cmd.OutOrStdout(), cache.ResourceCalendar, m.Calendar(cmd.Context(), fetchOptions()))
	})
}

func handleTimetable(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		return emit(cmd.OutOrStdout(), cache.ResourceTimetable, m.Timetable(cmd.Context(), fetchOptions()))
	})
}

func handleUserInfo(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		return emit(cmd.OutOrStdout(), cache.ResourceUserInfo, m.UserInfo(cmd.Context(), fetchOptions()))
	})
}

func handleDocuments(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	return withManager(func(m *cache.Manager) error {
		if subject != "" {
			return emit(cmd.OutOrStdout(), cache.ResourceSubjectDocuments, m.SubjectDocuments(cmd.Context(), subject, fetchOptions()))
		}
		return emit(cmd.OutOrStdout(), cache.ResourceDocuments, m.Documents(cmd.Context(), fetchOptions()))
	})
}

func handleDayOrder(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		return emit(cmd.OutOrStdout(), cache.ResourceDayOrder, m.DayOrder(cmd.Context(), forceRefresh))
	})
}

func handleStats(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	asJSON, _ := cmd.Flags().GetBool("json")

	return withManager(func(m *cache.Manager) error {
		var rows []cache.Stats
		if len(args) == 1 {
			s, err := m.Stats(args[0], subject)
			if err != nil {
				return err
			}
			rows = []cache.Stats{s}
		} else {
			rows = m.AllStats()
		}

		if asJSON {
			return output.WriteJSON(cmd.OutOrStdout(), rows)
		}
		return output.WriteStatsTable(cmd.OutOrStdout(), rows)
	})
}

func handleClear(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		if len(args) == 1 {
			if err := m.Invalidate(cmd.Context(), args[0]); err != nil {
				return err
			}
			core.ProgressPrint(fmt.Sprintf("Cleared %s cache", args[0]), quiet)
			return nil
		}
		n := m.InvalidateAll(cmd.Context())
		core.ProgressPrint(fmt.Sprintf("Cleared %d cache partitions", n), quiet)
		return nil
	})
}

func handleSignOut(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		n, err := m.SignOut(cmd.Context())
		if err != nil {
			core.ProgressPrint(fmt.Sprintf("Warning: portal sign-out failed: %v", err), quiet)
		}
		core.ProgressPrint(fmt.Sprintf("Signed out; cleared %d cache partitions", n), quiet)
		return nil
	})
}

func handleWarm(cmd *cobra.Command, args []string) error {
	return withManager(func(m *cache.Manager) error {
		core.ProgressPrint("Warming cache…", quiet)
		statuses := m.Warm(cmd.Context(), forceRefresh)
		if err := output.WriteWarmTable(cmd.OutOrStdout(), statuses); err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Kind == cache.KindAuth {
				return errors.New(loginHint)
			}
		}
		return nil
	})
}

// withManager opens a manager for the duration of fn.
func withManager(fn func(m *cache.Manager) error) (err error) {
	m, closer, err := openManager()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(m)
}

// emit writes a result envelope, warning on stale data. A result without data
// is an error; an auth failure adds the login hint.
func emit[T any](w io.Writer, resource string, r cache.Result[T]) error {
	if !r.OK() {
		if r.NeedsLogin() {
			return fmt.Errorf("%s: %s", resource, loginHint)
		}
		return fmt.Errorf("%s unavailable (%s): %v", resource, r.Kind, r.Err)
	}

	switch {
	case r.NeedsLogin():
		core.ProgressPrint(fmt.Sprintf("Warning: %s; showing cached %s", loginHint, resource), quiet)
	case r.Source == cache.SourceStale || r.Source == cache.SourceInferred:
		core.ProgressPrint(fmt.Sprintf("Warning: portal unavailable; showing %s %s", r.Source, resource), quiet)
	}
	return output.WriteJSON(w, output.NewEnvelope(resource, r))
}
