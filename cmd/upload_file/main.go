// Command upload_file uploads one or more local files through the SDK's
// upload manager, mirroring the upstream SDK's standalone upload_file
// demonstrator.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/upload"
	"github.com/spf13/cobra"
)

const apiBaseURL = "https://www.mediafire.com"

var (
	flagFolderkey  string
	flagPassword   string
	flagPath       string
	flagSaveAs     string
	flagUsername   string
	flagReplace    bool
	flagAutorename bool
)

func main() {
	if err := newUploadFileCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newUploadFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "upload_file [flags] -u USERNAME -p PASSWORD FILES...",
		Short:        "Upload one or more files through the SDK's upload manager.",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE:         runUploadFile,
	}
	cmd.Flags().StringVar(&flagFolderkey, "folderkey", "", "Folderkey to the directory where to upload")
	cmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Password for login")
	cmd.Flags().StringVar(&flagPath, "path", "", "Directory path where to upload file")
	cmd.Flags().StringVarP(&flagSaveAs, "saveas", "s", "", "Upload file with custom name. If multiple files passed, only the first is renamed.")
	cmd.Flags().StringVarP(&flagUsername, "username", "u", "", "Username for login")
	cmd.Flags().BoolVarP(&flagReplace, "replace", "r", false, "Replace file if one exists already with the same name.")
	cmd.Flags().BoolVarP(&flagAutorename, "autorename", "a", false, "Rename the file if it exists already.")
	return cmd
}

func runUploadFile(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || flagUsername == "" || flagPassword == "" {
		return cmd.Usage()
	}
	if flagReplace && flagAutorename {
		fmt.Println("Unable to replace and autorename.")
		return cmd.Usage()
	}

	httpCfg := mfhttp.NewConfig()
	token, err := login(httpCfg, apiBaseURL, flagUsername, flagPassword)
	if err != nil {
		fmt.Println("Username or password incorrect.")
		os.Exit(1)
	}

	api := &upload.HTTPAPIClient{HTTP: httpCfg, BaseURL: apiBaseURL, Session: token}
	mgr := upload.NewManager(&upload.Config{HTTP: httpCfg, API: api})
	defer mgr.Close()

	onDup := upload.Keep
	switch {
	case flagReplace:
		onDup = upload.Replace
	case flagAutorename:
		onDup = upload.AutoRename
	}

	var wg sync.WaitGroup
	for i, path := range args {
		req := &upload.Request{
			LocalPath:   path,
			Target:      upload.Target{FolderKey: flagFolderkey, Path: flagPath},
			OnDuplicate: onDup,
		}
		if flagSaveAs != "" && i == 0 {
			req.Filename = flagSaveAs
		}

		wg.Add(1)
		mgr.Add(req, statusPrinter(i+1, &wg))
	}
	wg.Wait()
	return nil
}

// statusPrinter mirrors the upstream demonstrator's per-file "[n] " tagged
// progress lines; wg is released on either terminal outcome.
func statusPrinter(id int, wg *sync.WaitGroup) upload.StatusFunc {
	prefix := fmt.Sprintf("[%d] ", id)
	return func(s upload.Status) {
		switch st := s.(type) {
		case upload.Progress:
			fmt.Printf("%sUploading: %d/%d chunks\n", prefix, st.ChunksUploaded, st.ChunksTotal)
		case upload.Failure:
			fmt.Printf("%sError: %s\n", prefix, st.Description)
			wg.Done()
		case upload.Success:
			fmt.Printf("%sUpload complete.\n", prefix)
			fmt.Printf("%sNew quickkey: %s\n", prefix, st.Quickkey)
			fmt.Printf("%sFilename: %s\n", prefix, st.Filename)
			wg.Done()
		}
	}
}
