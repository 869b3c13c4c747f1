/*
Copyright © 2024 CampusKit

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"

	devConfig "github.com/campuskit/sentinel/dev/config"
	"github.com/campuskit/sentinel/server"
	"github.com/campuskit/sentinel/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a sentinel server",
	Long: `The sentinel server houses the emergency alert pipeline -
per-student emergency contacts, alert creation & sms escalation to
verified contacts.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(serverConfig(), isDevEnv)
	},
}

var serverConfigFile string

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverConfigFile, "config", "", "config file for the server")
}

func serverConfig() *viper.Viper {
	config := viper.New()

	if isDevEnv {
		serverConfigFile = devConfigFilePath()
	}

	config.SetConfigFile(serverConfigFile)
	config.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		log.Panic(fmt.Sprintf("error reading server config file: %v", err))
	}

	return config
}

// devConfigFilePath returns the path to the dev server config,
// seeding it with defaults on first run.
func devConfigFilePath() string {
	workingDir, err := os.Getwd()
	if err != nil {
		log.Panic(err)
	}

	configFilePath := filepath.Join(workingDir, "dev", "config", "server.yml")
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		err = utils.CreateDirIfNotExist(filepath.Dir(configFilePath))
		if err != nil {
			log.Panic(err)
		}

		err = ioutil.WriteFile(configFilePath, []byte(devConfig.SERVER_YML), 0600)
		if err != nil {
			log.Panic(err)
		}
	}

	return configFilePath
}
