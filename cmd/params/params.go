package params

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/detector"
)

// Command creates the params command, which prints the default detection
// parameters as a YAML detection section ready to paste into config.yaml.
func Command() *cobra.Command {
	var dictionary string

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the default detection parameters as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := Render(dictionary)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVar(&dictionary, "dictionary", detector.Dict4x4_50.String(), "Marker dictionary to include in the output")
	return cmd
}

// detectionSection mirrors the detection block of config.yaml
type detectionSection struct {
	Dictionary       string                   `yaml:"dictionary"`
	CornerRefinement bool                     `yaml:"corner_refinement"`
	Parameters       conf.DetectionParameters `yaml:"parameters"`
}

// Render returns the YAML for the default parameters with the given dictionary
func Render(dictionary string) (string, error) {
	dict, err := detector.ParseDictionary(dictionary)
	if err != nil {
		return "", err
	}

	defaults := detector.DefaultParameters()
	doc := map[string]detectionSection{
		"detection": {
			Dictionary:       dict.String(),
			CornerRefinement: defaults.CornerRefinement,
			Parameters:       defaults.DetectionParameters,
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("error marshaling parameters: %w", err)
	}
	return string(data), nil
}
