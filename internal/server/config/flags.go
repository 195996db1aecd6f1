package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/flagx"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-k string     storage backend: fs, s3 or postgres
//	-dir string   storage directory for the fs backend
//	-d string     PostgreSQL DSN
//	-s string     JWT HMAC secret key
//	-t int        token validity, hours
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x string     S3 key prefix
//	-mint string  print a token for this subject and exit
//
// os.Args is first filtered to the flags handled here with
// flagx.FilterArgs, so the config file flag does not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-k", "-dir", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-x", "-mint"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	backend := fs.String("k", string(config.Backend), "storage backend (fs, s3, postgres)")
	fs.StringVar(&config.StorageDir, "dir", config.StorageDir, "storage directory for the fs backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidity.Hours()), "token validity (in hours)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "x", config.S3Prefix, "S3 key prefix")
	fs.StringVar(&config.MintSubject, "mint", config.MintSubject, "print a token for this subject and exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.Backend = remote.Kind(*backend)
	config.TokenValidity = time.Duration(*tokenValidity) * time.Hour
}
