package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiermem/hiermem/internal/store"
)

var (
	// add flags
	addSignificance string

	// search flags
	searchWorkingOnly bool
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a memory block",
	Long: `Store a new memory block in working memory.

Examples:
  hiermem add "Go channels are like pipes between goroutines"
  hiermem add "Deployment checklist" --significance system`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAdd(cmd, strings.Join(args, " "))
	},
}

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory blocks",
	Long: `Search stored memory blocks across all tiers by lexical relevance.

Examples:
  hiermem search "concurrency patterns"
  hiermem search "golang" --working-only`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSearch(cmd, strings.Join(args, " "))
	},
}

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a memory block by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runGet(cmd, args[0])
	},
}

// relatedCmd represents the related command
var relatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "List memory blocks related to one",
	Long: `List the blocks related to a memory block: direct references,
blocks sharing at least two keywords, or blocks sharing a w3w entry.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runRelated(cmd, args[0])
	},
}

// w3wCmd represents the w3w lookup command
var w3wCmd = &cobra.Command{
	Use:   "w3w <word>...",
	Short: "Look up memory blocks by w3w reference",
	Long: `Look up blocks whose three-token w3w reference matches every
given word as a substring.

Examples:
  hiermem w3w quick brown fox
  hiermem w3w deploy`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runW3W(cmd, args)
	},
}

func init() {
	addCmd.Flags().StringVar(&addSignificance, "significance", "user", "significance type (system, user, llm, derived)")
	searchCmd.Flags().BoolVar(&searchWorkingOnly, "working-only", false, "search working memory only")
}

func runAdd(cmd *cobra.Command, content string) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	significance, err := store.ParseSignificance(addSignificance)
	if err != nil {
		fail(err)
	}

	id, err := eng.AddMemory(content, significance)
	if err != nil {
		fail(err)
	}

	if !quiet {
		fmt.Printf("Stored %s\n", id)
	}
}

func runSearch(cmd *cobra.Command, query string) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	results, err := eng.SearchMemory(query, !searchWorkingOnly)
	if err != nil {
		fail(err)
	}

	printBlocks(results)
}

func runGet(cmd *cobra.Command, id string) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	block, err := eng.GetMemoryByID(id)
	if err != nil {
		fail(err)
	}
	if block == nil {
		fmt.Fprintf(os.Stderr, "Memory %s not found\n", id)
		os.Exit(1)
	}

	printBlocks([]*store.Block{block})
}

func runRelated(cmd *cobra.Command, id string) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	results, err := eng.GetRelatedMemories(id)
	if err != nil {
		fail(err)
	}

	printBlocks(results)
}

func runW3W(cmd *cobra.Command, words []string) {
	eng, _, err := openEngine(cmd)
	if err != nil {
		fail(err)
	}

	results, err := eng.LookupByW3W(words)
	if err != nil {
		fail(err)
	}

	printBlocks(results)
}

// printBlocks renders blocks one per line with tier and nexus markers
func printBlocks(blocks []*store.Block) {
	if quiet {
		return
	}
	if len(blocks) == 0 {
		fmt.Println("No memories found")
		return
	}

	for _, b := range blocks {
		marker := " "
		if b.IsNexus {
			marker = "*"
		}
		content := b.Content
		if len(content) > 80 {
			content = content[:77] + "..."
		}
		fmt.Printf("%s %-12s %s  %s\n", marker, b.Tier.String(), b.ID, content)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
