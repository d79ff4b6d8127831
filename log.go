package scrtdd

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "scrtdd")
