//go:build ignore

// Package main generates a synthetic content tree for load testing.
// Usage: go run scripts/generate-fixture.go -units 5 -depth 3 -fanout 4 -output testdata/tree.yaml
//
// The output is a `repoindex graph import` file rooted at the default root.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	numUnits  = flag.Int("units", 5, "Number of administrative units under the root")
	depth     = flag.Int("depth", 3, "Folder nesting depth below each unit")
	fanout    = flag.Int("fanout", 4, "Children per folder")
	outputFile = flag.String("output", "testdata/tree.yaml", "Output file")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type node struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title,omitempty"`
	Content string   `yaml:"content,omitempty"`
	Types   []string `yaml:"types"`
	Members []node   `yaml:"members,omitempty"`
}

type fixture struct {
	Nodes []node `yaml:"nodes"`
}

// Word pools for titles and file content
var (
	nouns = []string{
		"Letters", "Minutes", "Reports", "Maps", "Photographs",
		"Ledgers", "Deeds", "Surveys", "Drawings", "Notebooks",
		"Diaries", "Accounts", "Petitions", "Registers", "Contracts",
	}
	adjectives = []string{
		"annual", "early", "late", "regional", "private",
		"official", "estate", "parish", "family", "council",
	}
)

type generator struct {
	rng   *rand.Rand
	count int
}

func (g *generator) title() string {
	adj := adjectives[g.rng.Intn(len(adjectives))]
	return strings.ToUpper(adj[:1]) + adj[1:] + " " + nouns[g.rng.Intn(len(nouns))]
}

func (g *generator) content() string {
	words := make([]string, 8+g.rng.Intn(24))
	for i := range words {
		if i%2 == 0 {
			words[i] = adjectives[g.rng.Intn(len(adjectives))]
		} else {
			words[i] = strings.ToLower(nouns[g.rng.Intn(len(nouns))])
		}
	}
	return strings.Join(words, " ")
}

// folder builds a folder with fanout children; the last level holds files.
func (g *generator) folder(prefix string, level int) node {
	g.count++
	n := node{ID: prefix, Title: g.title(), Types: []string{"Folder"}}
	for i := range *fanout {
		id := fmt.Sprintf("%s-%d", prefix, i)
		if level+1 >= *depth {
			g.count++
			n.Members = append(n.Members, node{ID: id, Title: g.title(), Content: g.content(), Types: []string{"File"}})
			continue
		}
		n.Members = append(n.Members, g.folder(id, level+1))
	}
	return n
}

func main() {
	flag.Parse()
	g := &generator{rng: rand.New(rand.NewSource(*seed))}

	root := node{ID: "collections", Title: "Collections", Types: []string{"ContentRoot"}}
	g.count++
	for u := range *numUnits {
		g.count++
		unit := node{ID: fmt.Sprintf("unit%d", u), Title: g.title(), Types: []string{"AdminUnit"}}
		unit.Members = append(unit.Members, g.folder(fmt.Sprintf("u%d-f", u), 0))
		root.Members = append(root.Members, unit)
	}

	data, err := yaml.Marshal(fixture{Nodes: []node{root}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding fixture: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*outputFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing fixture: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d nodes in %s\n", g.count, *outputFile)
}
