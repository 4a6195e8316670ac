package bot

import (
	"fmt"
	"strings"

	"github.com/fluxcd/tagbot/pkg/update"
)

const (
	DefaultHeadBranch = "bump-image-tags"

	pullRequestTitle = "Bumping Docker image tags in JupyterHub config"
	pullRequestIntro = "This Pull Request is bumping the Docker tags for the following images to the listed versions.\n\n"
)

var branchEscaper = strings.NewReplacer("/", "-", ".", "")

// HeadBranchName returns the branch to propose changes to configPath
// from. Each file gets its own branch, so that a repository with more
// than one configuration can have a pull request open for each.
func HeadBranchName(prefix, configPath string) string {
	if prefix == "" {
		prefix = DefaultHeadBranch
	}
	return prefix + "/" + branchEscaper.Replace(configPath)
}

func commitMessage(records update.Records, images []string) string {
	tags := make([]string, len(images))
	for i, img := range images {
		tags[i] = records.Get(img).Latest
	}
	return fmt.Sprintf("Bump images [%s] to tags [%s], respectively",
		strings.Join(images, ", "), strings.Join(tags, ", "))
}

func pullRequestBody(records update.Records, images []string) string {
	var lines []string
	for _, img := range images {
		r := records.Get(img)
		lines = append(lines, fmt.Sprintf("- `%s`: `%s` -> `%s`", img, r.Current, r.Latest))
	}
	return pullRequestIntro + strings.Join(lines, "\n")
}
