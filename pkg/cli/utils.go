package cli

import "github.com/urfave/cli/v3"

func joinFlags(flagSets ...[]cli.Flag) []cli.Flag {
	var result []cli.Flag
	for _, flags := range flagSets {
		result = append(result, flags...)
	}
	return result
}
